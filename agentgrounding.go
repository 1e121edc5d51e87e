// Package agentgrounding serves a GUI-agent vision-language model behind a
// small HTTP API and turns the boxes it mentions into annotated images.
//
// A request carries a question and a screenshot. The screenshot and a fixed
// task prompt go to the model (through Ollama or a llama.cpp server), and
// every box=[[x1,y1,x2,y2]] in the answer is drawn onto the screenshot in red
// and saved as {name}_processed.png.
//
// Basic usage:
//
//	cfg := config.Default()
//	a, err := agentgrounding.New(cfg, logging.NewLogger("agent"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := a.LoadModel(ctx); err != nil {
//		log.Fatal(err)
//	}
//	out, err := a.Recognize(ctx, types.RecognizeRequest{
//		Question:  "open the settings",
//		Filename:  "screen.png",
//		ImageData: data,
//	})
//
// The package consists of these components:
//
//  1. Boxes (pkg/boxes): pulls normalized boxes out of model text
//  2. Processing (pkg/processing): projects boxes to pixels, draws and saves them
//  3. Agent (pkg/agent): builds the prompt and runs one request end to end
//  4. Server (pkg/server): the multipart HTTP endpoint
package agentgrounding

import (
	"fmt"

	"github.com/menta2k/agent-grounding/internal/config"
	"github.com/menta2k/agent-grounding/internal/logging"
	"github.com/menta2k/agent-grounding/internal/utils"
	"github.com/menta2k/agent-grounding/pkg/agent"
	"github.com/menta2k/agent-grounding/pkg/boxes"
	"github.com/menta2k/agent-grounding/pkg/client"
	"github.com/menta2k/agent-grounding/pkg/llamacpp"
	"github.com/menta2k/agent-grounding/pkg/ollama"
	"github.com/menta2k/agent-grounding/pkg/processing"
)

// Version of the agent grounding server
const Version = "1.0.0"

// NewClient creates the vision client for backend at url
func NewClient(backend, url string) (client.VisionClient, error) {
	switch backend {
	case config.BackendOllama:
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", backend)
	}
}

// New wires an agent from configuration: backend client, processor and output
// directory. The model is not contacted; call LoadModel for that.
func New(cfg *config.Config, logger *logging.Logger) (*agent.Agent, error) {
	c, err := NewClient(cfg.Model.Backend, cfg.BackendURL())
	if err != nil {
		return nil, err
	}
	return NewWithClient(cfg, c, logger)
}

// NewWithClient is New with a caller-supplied model client
func NewWithClient(cfg *config.Config, c client.VisionClient, logger *logging.Logger) (*agent.Agent, error) {
	policy, err := boxes.ParsePolicy(cfg.Output.BoxPolicy)
	if err != nil {
		return nil, err
	}

	if err := utils.EnsureDir(cfg.Output.Dir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	proc := processing.NewProcessor(processing.Options{
		OutputDir:   cfg.Output.Dir,
		Suffix:      cfg.Output.Suffix,
		StrokeWidth: cfg.Output.StrokeWidth,
		UniqueNames: cfg.Output.UniqueNames,
	})

	return agent.New(c, proc, logger, agent.Config{
		Model:          cfg.Model.Name,
		Platform:       cfg.Model.Platform,
		MaxLength:      cfg.Model.MaxLength,
		TopK:           cfg.Model.TopK,
		Timeout:        cfg.GenerationTimeout(),
		SendMaxDim:     cfg.Model.SendMaxDim,
		BoxPolicy:      policy,
		MaxImagePixels: cfg.Server.MaxImagePixels,
	}), nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
