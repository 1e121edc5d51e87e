package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/agent-grounding/pkg/analyzer"
	"github.com/menta2k/agent-grounding/pkg/boxes"
)

// Config holds the application configuration
type Config struct {
	Model   ModelConfig   `json:"model" yaml:"model"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Output  OutputConfig  `json:"output" yaml:"output"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ModelConfig holds configuration for the vision-language model backend
type ModelConfig struct {
	Name               string `json:"name" yaml:"name"`
	Backend            string `json:"backend" yaml:"backend"`
	URL                string `json:"url" yaml:"url"`
	Platform           string `json:"platform" yaml:"platform"`
	MaxLength          int    `json:"max_length" yaml:"max_length"`
	TopK               int    `json:"top_k" yaml:"top_k"`
	TimeoutSeconds     int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	LoadTimeoutSeconds int    `json:"load_timeout_seconds" yaml:"load_timeout_seconds"`
	SendMaxDim         int    `json:"send_max_dim" yaml:"send_max_dim"`
}

// ServerConfig holds configuration for the HTTP endpoint
type ServerConfig struct {
	Addr                   string `json:"addr" yaml:"addr"`
	MaxUploadBytes         int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	MaxImagePixels         int64  `json:"max_image_pixels" yaml:"max_image_pixels"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// OutputConfig holds configuration for annotated image output
type OutputConfig struct {
	Dir         string `json:"dir" yaml:"dir"`
	Suffix      string `json:"suffix" yaml:"suffix"`
	UniqueNames bool   `json:"unique_names" yaml:"unique_names"`
	BoxPolicy   string `json:"box_policy" yaml:"box_policy"`
	StrokeWidth int    `json:"stroke_width" yaml:"stroke_width"`
}

// LoggingConfig holds configuration for log output
type LoggingConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// Backends understood by the server
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Name:               "THUDM/cogagent-9b-20241220",
			Backend:            BackendOllama,
			URL:                "",
			Platform:           "Mac",
			MaxLength:          4096,
			TopK:               1,
			TimeoutSeconds:     300,
			LoadTimeoutSeconds: 60,
			SendMaxDim:         0,
		},
		Server: ServerConfig{
			Addr:                   "127.0.0.1:8000",
			MaxUploadBytes:         50 << 20,
			MaxImagePixels:         analyzer.DefaultMaxPixels,
			ShutdownTimeoutSeconds: 10,
		},
		Output: OutputConfig{
			Dir:         "./results",
			Suffix:      "_processed",
			UniqueNames: false,
			BoxPolicy:   string(boxes.PassThrough),
			StrokeWidth: 3,
		},
		Logging: LoggingConfig{
			Dir: "./logs",
		},
	}
}

// Load builds the effective configuration: defaults, then the optional config
// file, then a .env file if present, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the
// defaults. The format is picked by extension.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from environment variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("MODEL_STORAGE_PATH", &c.Model.Name)
	setString("MODEL_BACKEND", &c.Model.Backend)
	setString("MODEL_URL", &c.Model.URL)
	setString("LISTEN_ADDR", &c.Server.Addr)
	setString("OUTPUT_DIR", &c.Output.Dir)
	setString("LOG_DIR", &c.Logging.Dir)
	setString("BOX_POLICY", &c.Output.BoxPolicy)

	if v := getenv("GENERATION_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("GENERATION_TIMEOUT: %w", err)
		}
		c.Model.TimeoutSeconds = d
	}
	if v := getenv("UNIQUE_OUTPUT_NAMES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("UNIQUE_OUTPUT_NAMES: %w", err)
		}
		c.Output.UniqueNames = b
	}
	return nil
}

// parseSeconds accepts either a plain number of seconds or a Go duration string
func parseSeconds(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return int(d / time.Second), nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model.Name) == "" {
		return fmt.Errorf("model.name cannot be empty")
	}

	switch c.Model.Backend {
	case BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("model.backend must be %q or %q, got %q", BackendOllama, BackendLlamaCpp, c.Model.Backend)
	}

	if c.Model.MaxLength < 1 {
		return fmt.Errorf("model.max_length must be positive")
	}

	if c.Model.TopK < 1 {
		return fmt.Errorf("model.top_k must be positive")
	}

	if c.Model.LoadTimeoutSeconds < 1 {
		return fmt.Errorf("model.load_timeout_seconds must be positive")
	}

	if c.Model.TimeoutSeconds < 0 {
		return fmt.Errorf("model.timeout_seconds cannot be negative")
	}

	if c.Model.SendMaxDim < 0 {
		return fmt.Errorf("model.send_max_dim cannot be negative")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	if c.Server.MaxUploadBytes < 1024 {
		return fmt.Errorf("server.max_upload_bytes must be at least 1KB")
	}

	if c.Server.MaxImagePixels < 1 {
		return fmt.Errorf("server.max_image_pixels must be positive")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir cannot be empty")
	}

	if c.Output.StrokeWidth < 1 {
		return fmt.Errorf("output.stroke_width must be positive")
	}

	if _, err := boxes.ParsePolicy(c.Output.BoxPolicy); err != nil {
		return fmt.Errorf("output.box_policy: %w", err)
	}

	return nil
}

// GenerationTimeout returns the per-request generation timeout; zero means none
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

// LoadTimeout returns the timeout for the startup model check
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Model.LoadTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long in-flight requests get to drain
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// BackendURL returns the configured backend URL or the backend's default
func (c *Config) BackendURL() string {
	if c.Model.URL != "" {
		return c.Model.URL
	}
	if c.Model.Backend == BackendLlamaCpp {
		return "http://localhost:8080"
	}
	return "http://localhost:11434"
}
