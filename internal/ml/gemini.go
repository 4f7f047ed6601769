package ml

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/metrics"
	"github.com/franckalain/fruitbeast/internal/models"
)

// GeminiModel talks to the Gemini generateContent REST endpoint. The API key
// travels in the x-goog-api-key header and never appears in URLs or errors.
type GeminiModel struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewGeminiModel creates a Gemini REST model
func NewGeminiModel(cfg Config, logger *zap.Logger) *GeminiModel {
	return &GeminiModel{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("gemini"),
	}
}

// Gemini request/response shapes
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Load is a no-op: the REST client has nothing to initialize
func (m *GeminiModel) Load(ctx context.Context) error {
	return nil
}

// Analyze sends the photo inline with the analysis prompt
func (m *GeminiModel) Analyze(ctx context.Context, img models.Image) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: AnalysisPrompt},
				{InlineData: &geminiInlineData{
					MimeType: img.MimeType,
					Data:     base64.StdEncoding.EncodeToString(img.Data),
				}},
			},
		}},
	}

	resp, err := m.generate(ctx, "analyze", m.config.Model, req)
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if strings.TrimSpace(p.Text) != "" {
			return p.Text, nil
		}
	}
	return "", fmt.Errorf("%w: no text in first candidate", ErrMalformedResponse)
}

// GenerateImage asks the image model for a single IMAGE modality response
func (m *GeminiModel) GenerateImage(ctx context.Context, prompt string) (*models.Image, error) {
	req := geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"IMAGE"}},
	}

	resp, err := m.generate(ctx, "generate_image", m.config.ImageModel, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: bad image data: %v", ErrMalformedResponse, err)
		}
		mime := p.InlineData.MimeType
		if mime == "" {
			mime = "image/png"
		}
		return &models.Image{MimeType: mime, Data: data}, nil
	}
	return nil, fmt.Errorf("%w: no image data returned", ErrMalformedResponse)
}

// Close releases idle connections
func (m *GeminiModel) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

func (m *GeminiModel) generate(ctx context.Context, op, model string, payload geminiRequest) (*geminiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(m.config.Endpoint, "/"),
		url.PathEscape(model),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", m.config.APIKey)

	start := time.Now()
	resp, err := m.client.Do(httpReq)
	metrics.InferenceDuration.WithLabelValues(BackendGemini, op).Observe(time.Since(start).Seconds())
	if err != nil {
		// *url.Error prints the request URL; keep only the transport cause
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		m.logger.Warn("gemini request failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Warn("gemini returned error status",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Int("body_bytes", len(raw)))
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	m.logger.Debug("gemini call completed",
		zap.String("op", op),
		zap.String("model", model),
		zap.Int("candidates", len(out.Candidates)),
		zap.Duration("elapsed", time.Since(start)))
	return &out, nil
}
