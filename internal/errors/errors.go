package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Client errors
	ErrorInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorUndecodableImage ErrorCode = "UNDECODABLE_IMAGE"

	// Model errors
	ErrorModelLoadFailed  ErrorCode = "MODEL_LOAD_FAILED"
	ErrorInferenceFailed  ErrorCode = "INFERENCE_FAILED"
	ErrorInferenceTimeout ErrorCode = "INFERENCE_TIMEOUT"

	// Output errors
	ErrorAnnotationFailed ErrorCode = "ANNOTATION_FAILED"
)

// RequestError represents a structured error raised while serving a request
type RequestError struct {
	Code      ErrorCode
	Message   string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *RequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to the status the endpoint answers with
func (e *RequestError) HTTPStatus() int {
	switch e.Code {
	case ErrorInvalidInput, ErrorUndecodableImage:
		return http.StatusBadRequest
	case ErrorInferenceTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Factory functions for common errors

func NewInvalidInputError(message string) *RequestError {
	return &RequestError{
		Code:      ErrorInvalidInput,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewUndecodableImageError(filename string, cause error) *RequestError {
	return &RequestError{
		Code:      ErrorUndecodableImage,
		Message:   fmt.Sprintf("Cannot decode image %q", filename),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"filename": filename,
		},
		Cause: cause,
	}
}

func NewModelLoadFailedError(model string, cause error) *RequestError {
	return &RequestError{
		Code:      ErrorModelLoadFailed,
		Message:   fmt.Sprintf("Failed to load model %s", model),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"model": model,
		},
		Cause: cause,
	}
}

func NewInferenceFailedError(model string, cause error) *RequestError {
	return &RequestError{
		Code:      ErrorInferenceFailed,
		Message:   "Model generation failed",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"model": model,
		},
		Cause: cause,
	}
}

func NewInferenceTimeoutError(model string, timeout time.Duration, cause error) *RequestError {
	return &RequestError{
		Code:      ErrorInferenceTimeout,
		Message:   fmt.Sprintf("Model generation timed out after %v", timeout),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"model":            model,
			"timeout_duration": timeout.String(),
		},
		Cause: cause,
	}
}

func NewAnnotationFailedError(path string, cause error) *RequestError {
	return &RequestError{
		Code:      ErrorAnnotationFailed,
		Message:   fmt.Sprintf("Failed to write annotated image to %s", path),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"output_path": path,
		},
		Cause: cause,
	}
}

// CodeOf returns the code of the first RequestError in err's chain, or ""
func CodeOf(err error) ErrorCode {
	var re *RequestError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

// StatusOf returns the HTTP status for err; errors that are not RequestErrors
// are server faults.
func StatusOf(err error) int {
	var re *RequestError
	if stderrors.As(err, &re) {
		return re.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// ToMap converts error to map for structured logging
func (e *RequestError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
