package ml

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/models"
)

// SampleResponse is replayed by the local model when no response file is set
const SampleResponse = `**Fruit Name**: Banana
**Main Analysis**: The peel is bright yellow with a few brown sugar spots, so the banana is perfectly ripe and sweet.
**Metadata**
- **Wait Time**: Ready to eat
- **Shelf Period**: 2 days
- **Ripeness Percentage**: 90%
**Details**
- **Nutrition**: Potassium, vitamin B6 and quick-release carbohydrates.
- **Daily Intake**: One or two medium bananas.
- **Seasonal Info**: Available year-round.
- **Recipe Idea**: Blend a banana with yogurt and a handful of oats for a breakfast smoothie.
- **Good to Know**: Spoiling bananas ferment quickly; discard any with mould or a sour smell.
- **Nutrition Score**: 74`

// LocalModel answers every analysis with a canned response. It needs no
// network access and serves demos and offline development.
type LocalModel struct {
	config   Config
	logger   *zap.Logger
	response string
}

// NewLocalModel creates a local model; call Load before use
func NewLocalModel(cfg Config, logger *zap.Logger) *LocalModel {
	return &LocalModel{
		config: cfg,
		logger: logger.Named("local"),
	}
}

// Load reads the configured response file, if any
func (m *LocalModel) Load(ctx context.Context) error {
	if m.config.ResponseFile == "" {
		m.response = SampleResponse
		return nil
	}
	data, err := os.ReadFile(m.config.ResponseFile)
	if err != nil {
		return fmt.Errorf("failed to read response file: %w", err)
	}
	m.response = string(data)
	m.logger.Info("local model loaded", zap.String("response_file", m.config.ResponseFile))
	return nil
}

// Analyze returns the canned response
func (m *LocalModel) Analyze(ctx context.Context, img models.Image) (string, error) {
	if m.response == "" {
		return "", ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return m.response, nil
}

// GenerateImage is not implemented locally
func (m *LocalModel) GenerateImage(ctx context.Context, prompt string) (*models.Image, error) {
	return nil, ErrUnsupported
}

func (m *LocalModel) Close() error { return nil }
