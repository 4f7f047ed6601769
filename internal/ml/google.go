package ml

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/franckalain/fruitbeast/internal/metrics"
	"github.com/franckalain/fruitbeast/internal/models"
)

// GoogleModel implements the Model interface for Google's Vertex AI
type GoogleModel struct {
	config Config
	logger *zap.Logger
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGoogleModel creates a Vertex AI model; call Load before use
func NewGoogleModel(cfg Config, logger *zap.Logger) *GoogleModel {
	return &GoogleModel{
		config: cfg,
		logger: logger.Named("vertex"),
	}
}

// Load initializes the Vertex AI client
func (m *GoogleModel) Load(ctx context.Context) error {
	opts := []option.ClientOption{}

	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.model = client.GenerativeModel(m.config.Model)
	m.logger.Info("vertex model loaded",
		zap.String("project", m.config.ProjectID),
		zap.String("location", m.config.Location),
		zap.String("model", m.config.Model))
	return nil
}

// Analyze sends the photo and the analysis prompt to Vertex AI
func (m *GoogleModel) Analyze(ctx context.Context, img models.Image) (string, error) {
	if m.model == nil {
		return "", ErrNotLoaded
	}

	blob := genai.Blob{MIMEType: img.MimeType, Data: img.Data}

	start := time.Now()
	resp, err := m.model.GenerateContent(ctx, genai.Text(AnalysisPrompt), blob)
	metrics.InferenceDuration.WithLabelValues(BackendGoogle, "analyze").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no content in response", ErrMalformedResponse)
	}

	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok && strings.TrimSpace(string(text)) != "" {
			return string(text), nil
		}
	}
	return "", fmt.Errorf("%w: no text in first candidate", ErrMalformedResponse)
}

// GenerateImage is not available through the Vertex text models
func (m *GoogleModel) GenerateImage(ctx context.Context, prompt string) (*models.Image, error) {
	return nil, ErrUnsupported
}

// Close shuts down the Vertex AI client
func (m *GoogleModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}
