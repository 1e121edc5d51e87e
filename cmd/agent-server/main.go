package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	agentgrounding "github.com/menta2k/agent-grounding"
	"github.com/menta2k/agent-grounding/internal/config"
	"github.com/menta2k/agent-grounding/internal/logging"
	"github.com/menta2k/agent-grounding/pkg/server"
)

func main() {
	var configPath, addr, backend, url, writeConfig string
	var version bool

	flag.StringVar(&configPath, "config", "", "config file (.json, .yaml or .yml)")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config, default 127.0.0.1:8000)")
	flag.StringVar(&backend, "backend", "", "model backend: ollama or llamacpp (overrides config)")
	flag.StringVar(&url, "url", "", "backend server URL (overrides config)")
	flag.StringVar(&writeConfig, "write-config", "", "write the effective config to this file (.json, .yaml or .yml) and exit")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		fmt.Println(agentgrounding.GetVersion())
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, addr, backend, url)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if writeConfig != "" {
		if err := cfg.SaveToFile(writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", writeConfig)
		return
	}

	logger, err := logging.NewFileLogger("agent", cfg.Logging.Dir, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		logger.Close()
		os.Exit(1)
	}
}

// applyFlags overrides config values with non-empty command line flags
func applyFlags(cfg *config.Config, addr, backend, url string) {
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if backend != "" {
		cfg.Model.Backend = backend
	}
	if url != "" {
		cfg.Model.URL = url
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agentgrounding.New(cfg, logger)
	if err != nil {
		return err
	}

	loadCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout())
	err = a.LoadModel(loadCtx)
	cancel()
	if err != nil {
		return err
	}

	logger.Info("Starting server", "version", agentgrounding.Version, "addr", cfg.Server.Addr,
		"backend", cfg.Model.Backend, "backend_url", cfg.BackendURL(), "output_dir", cfg.Output.Dir,
		"log_file", logger.Path())

	handler := server.NewHandler(a, logger, cfg.Model.Backend, cfg.Server.MaxUploadBytes)
	return server.New(cfg.Server.Addr, handler.Routes(), logger, cfg.ShutdownTimeout()).Run(ctx)
}
