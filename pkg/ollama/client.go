package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/agent-grounding/pkg/client"
)

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string) (*Client, error) {
	// Parse the provided URL
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs scheme and host", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	// Create client with the specified URL, ignoring environment
	c := api.NewClient(baseURL, http.DefaultClient)

	return &Client{client: c}, nil
}

// LoadModel checks that the server knows the model. Ollama loads weights
// lazily on first use, so a successful Show is the closest thing to a load.
func (c *Client) LoadModel(ctx context.Context, model string) error {
	if _, err := c.client.Show(ctx, &api.ShowRequest{Model: model}); err != nil {
		return fmt.Errorf("ollama show %s: %w", model, err)
	}
	return nil
}

// Generate sends the prompt and image as a single user turn and returns the
// assistant text. The call runs until ctx is done.
func (c *Client) Generate(ctx context.Context, req client.GenerateRequest) (string, error) {
	imgBytes, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %v", err)
	}

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model: req.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Options: options(req),
	}

	var sb strings.Builder
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}

	return sb.String(), nil
}

// options maps generation settings onto Ollama model options. max_length
// bounds prompt plus output, which is what num_ctx controls.
func options(req client.GenerateRequest) map[string]any {
	opts := map[string]any{}
	if req.TopK > 0 {
		opts["top_k"] = req.TopK
	}
	if req.MaxLength > 0 {
		opts["num_ctx"] = req.MaxLength
	}
	return opts
}
