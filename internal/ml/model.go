package ml

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/models"
)

var (
	// ErrRequestFailed covers transport errors and non-success status codes.
	ErrRequestFailed = errors.New("inference request failed")
	// ErrMalformedResponse means the response lacked the expected
	// candidate/content shape.
	ErrMalformedResponse = errors.New("invalid AI response")
	// ErrUnsupported is returned by backends that cannot serve an operation.
	ErrUnsupported = errors.New("operation not supported by this model backend")
	ErrNotLoaded   = errors.New("model not loaded")
)

// Model is a multimodal inference backend
type Model interface {
	// Load initializes the model with its configuration
	Load(ctx context.Context) error
	// Analyze sends the fruit photo with the analysis prompt and returns the
	// model's raw text answer
	Analyze(ctx context.Context, img models.Image) (string, error)
	// GenerateImage renders an illustration for the given prompt
	GenerateImage(ctx context.Context, prompt string) (*models.Image, error)
	Close() error
}

// NewModel creates a model instance based on the configured backend type
func NewModel(cfg Config, logger *zap.Logger) (Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case BackendGemini:
		return NewGeminiModel(cfg, logger), nil
	case BackendGoogle:
		return NewGoogleModel(cfg, logger), nil
	case BackendLocal:
		return NewLocalModel(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Type)
	}
}
