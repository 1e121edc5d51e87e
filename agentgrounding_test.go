package agentgrounding

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/menta2k/agent-grounding/internal/config"
	"github.com/menta2k/agent-grounding/internal/errors"
	"github.com/menta2k/agent-grounding/internal/logging"
	"github.com/menta2k/agent-grounding/pkg/client"
	"github.com/menta2k/agent-grounding/pkg/llamacpp"
	"github.com/menta2k/agent-grounding/pkg/ollama"
	"github.com/menta2k/agent-grounding/pkg/types"
)

type scripted struct{ text string }

func (s scripted) LoadModel(ctx context.Context, model string) error { return nil }

func (s scripted) Generate(ctx context.Context, req client.GenerateRequest) (string, error) {
	return s.text, nil
}

// createTestImage creates a screenshot-like image with a bright button
func createTestImage(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/2 && x < 3*width/4 && y > height/2 && y < 3*height/4 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{32, 32, 32, 255})
			}
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(config.BackendOllama, "http://localhost:11434")
	if err != nil {
		t.Fatalf("NewClient(ollama) failed: %v", err)
	}
	if _, ok := c.(*ollama.Client); !ok {
		t.Errorf("Expected *ollama.Client, got %T", c)
	}

	c, err = NewClient(config.BackendLlamaCpp, "")
	if err != nil {
		t.Fatalf("NewClient(llamacpp) failed: %v", err)
	}
	if _, ok := c.(*llamacpp.Client); !ok {
		t.Errorf("Expected *llamacpp.Client, got %T", c)
	}

	if _, err := NewClient("vllm", ""); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNewWithClientCreatesOutputDir(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(t.TempDir(), "results")

	a, err := NewWithClient(cfg, scripted{}, logging.NewLoggerWithWriter("test", io.Discard))
	if err != nil {
		t.Fatalf("NewWithClient failed: %v", err)
	}
	if a.Model() != cfg.Model.Name {
		t.Errorf("Unexpected model %q", a.Model())
	}
	if info, err := os.Stat(cfg.Output.Dir); err != nil || !info.IsDir() {
		t.Errorf("Output directory not created: %v", err)
	}
}

func TestNewWithClientRejectsBadPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Output.BoxPolicy = "drop"
	if _, err := NewWithClient(cfg, scripted{}, nil); err == nil {
		t.Error("Expected error for unknown box policy")
	}
}

func TestEndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()

	a, err := NewWithClient(cfg, scripted{text: "Status: found\nAction: CLICK(box=[[500,500,750,750]], element_info='OK')"},
		logging.NewLoggerWithWriter("test", io.Discard))
	if err != nil {
		t.Fatal(err)
	}

	out, err := a.Recognize(context.Background(), types.RecognizeRequest{
		Question:  "find the button",
		Filename:  "photo.jpg",
		ImageData: createTestImage(200, 100),
	})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}

	want := cfg.Output.Dir + string(os.PathSeparator) + "photo_processed.png"
	if out.Result.AnnotatedImagePath != want {
		t.Errorf("Expected %q, got %q", want, out.Result.AnnotatedImagePath)
	}
	if got := out.Annotation.PixelBoxes; len(got) != 1 || got[0] != (types.PixelBox{X1: 100, Y1: 50, X2: 150, Y2: 75}) {
		t.Errorf("Unexpected pixel boxes %v", got)
	}
}

func TestGenerationTimeoutComesFromConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"box=[[0,0,500,500]]"}}]}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Model.Backend = config.BackendLlamaCpp
	cfg.Model.URL = srv.URL
	cfg.Output.Dir = t.TempDir()
	quiet := logging.NewLoggerWithWriter("test", io.Discard)
	req := types.RecognizeRequest{Question: "q", Filename: "a.png", ImageData: createTestImage(20, 20)}

	// a slow backend completes when the configured timeout allows it
	cfg.Model.TimeoutSeconds = 5
	a, err := New(cfg, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Recognize(context.Background(), req); err != nil {
		t.Errorf("Generation within the configured timeout failed: %v", err)
	}

	// a deadline from the caller surfaces as an inference timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := a.Recognize(ctx, req); errors.CodeOf(err) != errors.ErrorInferenceTimeout {
		t.Errorf("Expected inference timeout, got %v", err)
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("Expected version %s, got %s", Version, GetVersion())
	}
}
