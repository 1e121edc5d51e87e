package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogWithKV(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("agent", &buf)

	l.Info("Received request", "question", "find the button", "image", "shot.png")
	l.Warn("dangling key", "only")

	out := buf.String()
	if !strings.Contains(out, `[agent] `) {
		t.Errorf("Missing prefix in %q", out)
	}
	if !strings.Contains(out, `[INFO] Received request question="find the button" image="shot.png"`) {
		t.Errorf("Unexpected info line %q", out)
	}
	if !strings.Contains(out, "[WARN] dangling key\n") {
		t.Errorf("Odd key/value list should drop the dangling key: %q", out)
	}
}

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 12, 20, 9, 5, 7, 0, time.UTC)
	if got := FileName(ts); got != "app_20241220_090507.log" {
		t.Errorf("Unexpected log file name %q", got)
	}
}

func TestNewFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	l, err := NewFileLogger("agent", dir, ts)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	l.Error("Failed to load model", "error", "not found")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if l.Path() != filepath.Join(dir, "app_20240102_030405.log") {
		t.Errorf("Unexpected path %q", l.Path())
	}
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("Reading log file failed: %v", err)
	}
	if !strings.Contains(string(data), `[ERROR] Failed to load model error="not found"`) {
		t.Errorf("Log file missing entry: %q", data)
	}
}
