package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	agentgrounding "github.com/menta2k/agent-grounding"
	"github.com/menta2k/agent-grounding/internal/config"
	"github.com/menta2k/agent-grounding/internal/logging"
	"github.com/menta2k/agent-grounding/internal/utils"
	"github.com/menta2k/agent-grounding/pkg/types"
)

func main() {
	var in, question, configPath, outDir, backend, serverURL, model, policy string
	var unique, verbose bool

	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/webp/gif/bmp/tiff)")
	flag.StringVar(&question, "q", "", "task for the agent, e.g. \"open the settings\"")
	flag.StringVar(&configPath, "config", "", "config file (.json, .yaml or .yml)")
	flag.StringVar(&outDir, "out", "", "output directory (overrides config)")
	flag.StringVar(&backend, "backend", "", "backend to use: ollama or llamacpp")
	flag.StringVar(&serverURL, "url", "", "server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&model, "model", "", "model name (overrides MODEL_STORAGE_PATH)")
	flag.StringVar(&policy, "policy", "", "box policy: pass-through|clamp|reject")
	flag.BoolVar(&unique, "unique", false, "append a random id to the output filename")
	flag.BoolVar(&verbose, "v", false, "log pipeline steps to stderr")
	flag.Parse()

	if in == "" || question == "" {
		log.Fatalf("usage: %s -in screen.png|URL -q \"task\" [-backend ollama|llamacpp] [-url server_url] [-out dir] [-policy clamp]", filepath.Base(os.Args[0]))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if backend != "" {
		cfg.Model.Backend = backend
	}
	if serverURL != "" {
		cfg.Model.URL = serverURL
	}
	if model != "" {
		cfg.Model.Name = model
	}
	if policy != "" {
		cfg.Output.BoxPolicy = policy
	}
	if unique {
		cfg.Output.UniqueNames = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logWriter := io.Discard
	if verbose {
		logWriter = os.Stderr
	}
	logger := logging.NewLoggerWithWriter("agent", logWriter)

	a, err := agentgrounding.New(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := a.LoadModel(ctx); err != nil {
		log.Fatal(err)
	}

	data, filename, err := loadSource(in)
	if err != nil {
		log.Fatal(err)
	}

	out, err := a.Recognize(ctx, types.RecognizeRequest{
		Question:  question,
		Filename:  filename,
		ImageData: data,
	})
	if err != nil {
		log.Fatal(err)
	}

	js, _ := json.MarshalIndent(struct {
		types.RecognizeResult
		Annotation types.Annotation `json:"annotation"`
	}{out.Result, out.Annotation}, "", "  ")
	fmt.Println(string(js))
}

// loadSource reads an image from a local path or an http(s) URL and returns
// its bytes plus the filename used to derive the output name.
func loadSource(source string) ([]byte, string, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		if !utils.FileExists(source) {
			return nil, "", fmt.Errorf("image file not found: %s", source)
		}
		if !utils.IsImageFile(source) {
			return nil, "", fmt.Errorf("not an image file: %s", source)
		}
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, "", err
		}
		return data, filepath.Base(source), nil
	}

	parsedURL, err := url.Parse(source)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %v", err)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequest(http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "agent-grounding/"+agentgrounding.Version)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %v", err)
	}

	name := path.Base(parsedURL.Path)
	if name == "/" || name == "." {
		name = "download"
	}
	return data, name, nil
}
