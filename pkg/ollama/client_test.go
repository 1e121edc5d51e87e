package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/menta2k/agent-grounding/pkg/client"
)

var _ client.VisionClient = (*Client)(nil)

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("localhost"); err == nil {
		t.Error("Expected error for URL without scheme")
	}
	if _, err := NewClient("http://localhost:11434/api/chat"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestGenerate(t *testing.T) {
	image := []byte("\x89PNG fake")
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string   `json:"role"`
			Content string   `json:"content"`
			Images  []string `json:"images"`
		} `json:"messages"`
		Stream  bool           `json:"stream"`
		Options map[string]any `json:"options"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":   got.Model,
			"message": map[string]string{"role": "assistant", "content": "Action: click box=[[1,2,3,4]]"},
			"done":    true,
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	text, err := c.Generate(context.Background(), client.GenerateRequest{
		Model:     "cogagent",
		Prompt:    "Task: find the button",
		ImageB64:  base64.StdEncoding.EncodeToString(image),
		MaxLength: 4096,
		TopK:      1,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "Action: click box=[[1,2,3,4]]" {
		t.Errorf("Unexpected response %q", text)
	}

	if got.Model != "cogagent" || got.Stream {
		t.Errorf("Unexpected request %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "Task: find the button" {
		t.Fatalf("Unexpected messages %+v", got.Messages)
	}
	if len(got.Messages[0].Images) != 1 || got.Messages[0].Images[0] != base64.StdEncoding.EncodeToString(image) {
		t.Errorf("Image not forwarded: %v", got.Messages[0].Images)
	}
	if got.Options["top_k"] != float64(1) || got.Options["num_ctx"] != float64(4096) {
		t.Errorf("Unexpected options %v", got.Options)
	}
}

func TestGenerateBadBase64(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1")
	if _, err := c.Generate(context.Background(), client.GenerateRequest{ImageB64: "%%%"}); err == nil {
		t.Error("Expected error for invalid base64")
	}
}

func TestLoadModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if r.URL.Path != "/api/show" || req.Model != "cogagent" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "model not found"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"modelfile": "FROM cogagent"})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if err := c.LoadModel(context.Background(), "cogagent"); err != nil {
		t.Errorf("LoadModel failed: %v", err)
	}
	if err := c.LoadModel(context.Background(), "missing"); err == nil {
		t.Error("Expected error for unknown model")
	}
}

func TestGenerateUsesContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"role":"assistant","content":"slow"},"done":true}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	req := client.GenerateRequest{Model: "cogagent", Prompt: "q", ImageB64: base64.StdEncoding.EncodeToString([]byte("img"))}

	text, err := c.Generate(context.Background(), req)
	if err != nil || text != "slow" {
		t.Errorf("Slow generation without deadline should succeed, got %q %v", text, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Generate(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
