package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/menta2k/agent-grounding/internal/errors"
	"github.com/menta2k/agent-grounding/internal/logging"
	"github.com/menta2k/agent-grounding/internal/utils"
	"github.com/menta2k/agent-grounding/pkg/agent"
	"github.com/menta2k/agent-grounding/pkg/types"
)

// RecognizePath is the single inference route
const RecognizePath = "/api/v1/agent/recognize"

// Recognizer is what the handler needs from the agent
type Recognizer interface {
	Recognize(ctx context.Context, req types.RecognizeRequest) (*agent.Outcome, error)
	Model() string
}

type Handler struct {
	recognizer     Recognizer
	logger         *logging.Logger
	backend        string
	maxUploadBytes int64
}

func NewHandler(r Recognizer, logger *logging.Logger, backend string, maxUploadBytes int64) *Handler {
	if logger == nil {
		logger = logging.NewLogger("http")
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handler{
		recognizer:     r,
		logger:         logger,
		backend:        backend,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes registers the handler's endpoints on a new mux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(RecognizePath, h.RecognizeHandler)
	mux.HandleFunc("/health", h.HealthHandler)
	return mux
}

// RecognizeHandler handles POST /api/v1/agent/recognize with multipart fields
// "question" and "image".
func (h *Handler) RecognizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondError(w, "Method not allowed", "", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			respondError(w, fmt.Sprintf("Upload exceeds %d bytes", h.maxUploadBytes), errors.ErrorInvalidInput, http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, "Failed to parse form", errors.ErrorInvalidInput, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	question := r.PostFormValue("question")
	if question == "" {
		respondError(w, "Field \"question\" is required", errors.ErrorInvalidInput, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, "Field \"image\" is required", errors.ErrorInvalidInput, http.StatusBadRequest)
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "Failed to read image", "", http.StatusInternalServerError)
		return
	}
	h.logger.Debug("Received upload", "image", header.Filename, "size", utils.FormatFileSize(int64(len(imageData))))

	out, err := h.recognizer.Recognize(r.Context(), types.RecognizeRequest{
		Question:  question,
		Filename:  header.Filename,
		ImageData: imageData,
	})
	if err != nil {
		respondError(w, err.Error(), errors.CodeOf(err), errors.StatusOf(err))
		return
	}

	respondJSON(w, out.Result, http.StatusOK)
}

// HealthHandler reports liveness and which model is being served
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"status":  "ok",
		"model":   h.recognizer.Model(),
		"backend": h.backend,
	}, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes {"error": message, "code": code}; code is omitted when empty
func respondError(w http.ResponseWriter, message string, code errors.ErrorCode, status int) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = string(code)
	}
	respondJSON(w, body, status)
}
