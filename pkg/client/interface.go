package client

import (
	"context"
)

// GenerateRequest is one generation call against a vision-language model
type GenerateRequest struct {
	Model     string
	Prompt    string
	ImageB64  string
	MaxLength int
	TopK      int
}

// VisionClient is the model collaborator: something that can confirm a model
// is available and generate text for an image and a prompt.
type VisionClient interface {
	LoadModel(ctx context.Context, model string) error
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
