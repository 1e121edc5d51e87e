// Package agent runs one recognize request end to end: decode the upload,
// ask the vision model, pull boxes out of its answer and draw them.
package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/agent-grounding/internal/errors"
	"github.com/menta2k/agent-grounding/internal/logging"
	"github.com/menta2k/agent-grounding/pkg/analyzer"
	"github.com/menta2k/agent-grounding/pkg/boxes"
	"github.com/menta2k/agent-grounding/pkg/client"
	"github.com/menta2k/agent-grounding/pkg/processing"
	"github.com/menta2k/agent-grounding/pkg/types"
)

// FormatInstruction asks the model for its structured GUI-agent answer format
const FormatInstruction = "(Answer in Status-Action-Operation-Sensitive format.)"

// BuildPrompt combines the user's task with the fixed platform and format lines
func BuildPrompt(question, platform string) string {
	return fmt.Sprintf("Task: %s\nHistory steps: \n(Platform: %s)\n%s", question, platform, FormatInstruction)
}

// Config holds the per-process generation settings
type Config struct {
	Model          string
	Platform       string
	MaxLength      int
	TopK           int
	Timeout        time.Duration
	SendMaxDim     int
	BoxPolicy      boxes.Policy
	MaxImagePixels int64 // 0 uses analyzer.DefaultMaxPixels
}

// Agent holds the shared model client. Generation is serialized because a
// single loaded model cannot safely serve overlapping requests.
type Agent struct {
	client    client.VisionClient
	analyzer  *analyzer.ImageAnalyzer
	processor *processing.Processor
	logger    *logging.Logger
	config    Config

	genMu sync.Mutex
}

// New creates an agent around an already loaded model client
func New(c client.VisionClient, proc *processing.Processor, logger *logging.Logger, cfg Config) *Agent {
	if cfg.BoxPolicy == "" {
		cfg.BoxPolicy = boxes.PassThrough
	}
	if logger == nil {
		logger = logging.NewLogger("agent")
	}
	ac := analyzer.DefaultConfig()
	if cfg.MaxImagePixels > 0 {
		ac.MaxPixels = cfg.MaxImagePixels
	}
	return &Agent{
		client:    c,
		analyzer:  analyzer.NewWithConfig(ac),
		processor: proc,
		logger:    logger,
		config:    cfg,
	}
}

// Model returns the configured model name
func (a *Agent) Model() string {
	return a.config.Model
}

// LoadModel asks the backend to confirm the model is available
func (a *Agent) LoadModel(ctx context.Context) error {
	a.logger.Info("Starting model loading", "model", a.config.Model)
	if err := a.client.LoadModel(ctx, a.config.Model); err != nil {
		a.logger.Error("Failed to load model", "model", a.config.Model, "error", err)
		return errors.NewModelLoadFailedError(a.config.Model, err)
	}
	a.logger.Info("Model loaded successfully", "model", a.config.Model)
	return nil
}

// Outcome is the full result of a request, including what was drawn
type Outcome struct {
	RequestID  string
	Result     types.RecognizeResult
	Annotation types.Annotation
}

// Recognize runs the pipeline for one request
func (a *Agent) Recognize(ctx context.Context, req types.RecognizeRequest) (*Outcome, error) {
	reqID := uuid.NewString()
	a.logger.Info("Received request", "request_id", reqID, "question", req.Question, "image", req.Filename)

	out, err := a.recognize(ctx, reqID, req)
	if err != nil {
		kv := []interface{}{"request_id", reqID, "question", req.Question, "image", req.Filename}
		a.logger.Error("Error processing request", append(kv, errorFields(err)...)...)
		return nil, err
	}
	return out, nil
}

// errorFields flattens a RequestError into sorted key/value pairs for logging
func errorFields(err error) []interface{} {
	var re *errors.RequestError
	if !stderrors.As(err, &re) {
		return []interface{}{"error", err}
	}
	fields := re.ToMap()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return kv
}

func (a *Agent) recognize(ctx context.Context, reqID string, req types.RecognizeRequest) (*Outcome, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.NewInvalidInputError("question is required")
	}
	if len(req.ImageData) == 0 {
		return nil, errors.NewInvalidInputError("image is required")
	}

	img, format, err := a.analyzer.DecodeBytes(req.ImageData)
	if err != nil {
		return nil, errors.NewUndecodableImageError(req.Filename, err)
	}
	work := processing.WorkingCopy(img)
	info := a.analyzer.GetImageInfo(work)
	a.logger.Debug("Decoded image", "request_id", reqID, "format", format,
		"width", info.Width, "height", info.Height)

	imgB64, err := a.processor.PrepareImageForModel(work, a.config.SendMaxDim)
	if err != nil {
		return nil, errors.NewUndecodableImageError(req.Filename, err)
	}

	response, err := a.generate(ctx, reqID, BuildPrompt(req.Question, a.config.Platform), imgB64)
	if err != nil {
		return nil, err
	}

	found := boxes.Extract(response)
	kept, n := boxes.Apply(a.config.BoxPolicy, found)
	if n > 0 {
		a.logger.Warn("Box policy adjusted model boxes", "request_id", reqID,
			"policy", a.config.BoxPolicy, "affected", n)
	}

	out := &Outcome{
		RequestID: reqID,
		Result: types.RecognizeResult{
			Response:           response,
			AnnotatedImagePath: types.NoBoxesFound,
		},
		Annotation: types.Annotation{
			Boxes:       kept,
			ImageWidth:  info.Width,
			ImageHeight: info.Height,
		},
	}

	if len(kept) == 0 {
		a.logger.Warn("No bounding boxes found in the response", "request_id", reqID)
		return out, nil
	}

	outputPath := a.processor.OutputPath(req.Filename)
	a.logger.Info("Drawing boxes on image", "request_id", reqID, "boxes", len(kept), "path", outputPath)
	drawn, err := a.processor.Annotate(work, kept, outputPath)
	if err != nil {
		return nil, errors.NewAnnotationFailedError(outputPath, err)
	}
	a.logger.Info("Annotated image saved", "request_id", reqID, "path", outputPath)

	out.Result.AnnotatedImagePath = outputPath
	out.Annotation.PixelBoxes = drawn
	out.Annotation.OutputPath = outputPath
	return out, nil
}

// generate holds the model lock for the duration of one generation call
func (a *Agent) generate(ctx context.Context, reqID, prompt, imgB64 string) (string, error) {
	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	if err := a.lock(ctx); err != nil {
		return "", a.generationError(err)
	}
	defer a.genMu.Unlock()

	a.logger.Info("Generating model response", "request_id", reqID)
	start := time.Now()
	response, err := a.client.Generate(ctx, client.GenerateRequest{
		Model:     a.config.Model,
		Prompt:    prompt,
		ImageB64:  imgB64,
		MaxLength: a.config.MaxLength,
		TopK:      a.config.TopK,
	})
	if err != nil {
		return "", a.generationError(err)
	}
	a.logger.Info("Model response generated successfully", "request_id", reqID,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return response, nil
}

// lock acquires genMu unless ctx ends first
func (a *Agent) lock(ctx context.Context) error {
	if a.genMu.TryLock() {
		return nil
	}
	acquired := make(chan struct{})
	go func() {
		a.genMu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		// the goroutine still takes the lock eventually; hand it straight back
		go func() {
			<-acquired
			a.genMu.Unlock()
		}()
		return ctx.Err()
	}
}

func (a *Agent) generationError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewInferenceTimeoutError(a.config.Model, a.config.Timeout, err)
	}
	return errors.NewInferenceFailedError(a.config.Model, err)
}
