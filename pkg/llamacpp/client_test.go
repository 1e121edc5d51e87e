package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/menta2k/agent-grounding/pkg/client"
)

var _ client.VisionClient = (*Client)(nil)

func TestGenerate(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "box=[[10,20,30,40]]"}}},
		})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL + "/")
	text, err := c.Generate(context.Background(), client.GenerateRequest{
		Model:     "cogagent",
		Prompt:    "Task: open settings",
		ImageB64:  "aW1n",
		MaxLength: 4096,
		TopK:      1,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "box=[[10,20,30,40]]" {
		t.Errorf("Unexpected text %q", text)
	}

	if got.MaxTokens != 4096 || got.TopK != 1 || got.Stream {
		t.Errorf("Unexpected request settings %+v", got)
	}
	parts, ok := got.Messages[0].Content.([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %#v", got.Messages[0].Content)
	}
	img := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})["url"].(string)
	if img != "data:image/png;base64,aW1n" {
		t.Errorf("Unexpected image URL %q", img)
	}
}

func TestGenerateArrayContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"Status: "},{"type":"text","text":"done"}]}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	text, err := c.Generate(context.Background(), client.GenerateRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "Status: done" {
		t.Errorf("Unexpected text %q", text)
	}
}

func TestGenerateErrors(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter){
		"status":     func(w http.ResponseWriter) { http.Error(w, "model crashed", http.StatusInternalServerError) },
		"no choices": func(w http.ResponseWriter) { w.Write([]byte(`{"choices":[]}`)) },
		"bad json":   func(w http.ResponseWriter) { w.Write([]byte(`{`)) },
	}
	for name, handler := range cases {
		h := handler
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { h(w) }))
		c, _ := NewClient(srv.URL)
		_, err := c.Generate(context.Background(), client.GenerateRequest{Prompt: "x"})
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
		if name == "status" && err != nil && !strings.Contains(err.Error(), "500") {
			t.Errorf("%s: status code missing from %v", name, err)
		}
		srv.Close()
	}
}

func TestLoadModel(t *testing.T) {
	cases := map[string]bool{
		`{"data":[{"id":"cogagent-9b.gguf"}]}`: true,
		`{"data":[]}`:                          false,
	}
	for body, wantOK := range cases {
		payload := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/models" {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(payload))
		}))

		c, _ := NewClient(srv.URL)
		err := c.LoadModel(context.Background(), "cogagent")
		if wantOK && err != nil {
			t.Errorf("LoadModel failed for %s: %v", payload, err)
		}
		if !wantOK && err == nil {
			t.Errorf("Expected error for %s", payload)
		}
		srv.Close()
	}
}

func TestGenerateUsesContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"slow"}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if c.httpClient.Timeout != 0 {
		t.Errorf("Client should not impose its own timeout, got %v", c.httpClient.Timeout)
	}

	text, err := c.Generate(context.Background(), client.GenerateRequest{Prompt: "q"})
	if err != nil || text != "slow" {
		t.Errorf("Slow generation without deadline should succeed, got %q %v", text, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Generate(ctx, client.GenerateRequest{Prompt: "q"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
