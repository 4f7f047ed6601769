// Package orchestrator drives one user's capture -> analyze -> view cycle.
//
// A Session runs two small state machines. The analysis machine moves
// Idle -> Loading -> Success|Failed and restarts at Loading on every new
// capture. Every capture is tagged with a monotonically increasing token; a
// response whose token is no longer the latest is dropped so a slow, older
// request can never overwrite a newer one. The recipe image machine hangs off
// the current analysis record: it is started lazily, its successful result is
// cached for the lifetime of that record, and it is reset by the next capture.
package orchestrator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/metrics"
	"github.com/franckalain/fruitbeast/internal/ml"
	"github.com/franckalain/fruitbeast/internal/models"
	"github.com/franckalain/fruitbeast/internal/parser"
)

// State of an asynchronous operation
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// RecipeImageError is shown when the illustration could not be produced
const RecipeImageError = "Sorry, couldn't create an image for this recipe."

var (
	// ErrSuperseded is returned to the caller of a request whose response
	// arrived after a newer capture was started.
	ErrSuperseded = errors.New("analysis superseded by a newer capture")
	// ErrNoAnalysis means an operation needs a completed analysis first.
	ErrNoAnalysis = errors.New("no completed analysis")
	// ErrNoRecipeIdea means the analysis has nothing to illustrate.
	ErrNoRecipeIdea = errors.New("analysis has no recipe idea")
)

// RecipeImageSnapshot is the state of the recipe illustration
type RecipeImageSnapshot struct {
	State State  `json:"state"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// Snapshot is an immutable copy of a session's visible state
type Snapshot struct {
	Token       uint64                `json:"token"`
	State       State                 `json:"state"`
	Image       string                `json:"image,omitempty"` // data URL of the captured photo
	Analysis    *models.FruitAnalysis `json:"analysis,omitempty"`
	Error       string                `json:"error,omitempty"`
	RecipeImage RecipeImageSnapshot   `json:"recipeImage"`
}

// Session holds the analysis state of one user
type Session struct {
	model  ml.Model
	logger *zap.Logger

	mu       sync.Mutex
	token    uint64
	state    State
	image    *models.Image
	analysis *models.FruitAnalysis
	errMsg   string

	recipeState State
	recipeImage *models.Image
	recipeErr   string

	nextListener uint64
	listeners    map[uint64]func(Snapshot)
}

// NewSession creates an idle session
func NewSession(model ml.Model, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		model:       model,
		logger:      logger,
		state:       StateIdle,
		recipeState: StateIdle,
		listeners:   make(map[uint64]func(Snapshot)),
	}
}

// OnChange registers fn to receive every new snapshot. Listeners run
// synchronously after the state change and must not block.
// The returned function removes the listener.
func (s *Session) OnChange(fn func(Snapshot)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Snapshot returns the current visible state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Current returns the active analysis record, or nil
func (s *Session) Current() *models.FruitAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSuccess || s.analysis == nil {
		return nil
	}
	a := *s.analysis
	return &a
}

// Analyze starts a new analysis of img and blocks until the model answers.
// The returned snapshot reflects this request's outcome. If a newer capture
// started meanwhile, the response is discarded and ErrSuperseded returned.
// Model failures are recorded in the snapshot, not returned as errors.
func (s *Session) Analyze(ctx context.Context, img models.Image) (Snapshot, error) {
	s.mu.Lock()
	s.token++
	token := s.token
	s.state = StateLoading
	s.image = &img
	s.analysis = nil
	s.errMsg = ""
	s.recipeState = StateIdle
	s.recipeImage = nil
	s.recipeErr = ""
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Debug("analysis started", zap.Uint64("token", token), zap.Int("image_bytes", len(img.Data)))

	text, err := s.model.Analyze(ctx, img)

	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token {
		metrics.Analyses.WithLabelValues(metrics.OutcomeSuperseded).Inc()
		s.logger.Debug("discarding stale analysis response",
			zap.Uint64("token", token), zap.Uint64("latest", s.token))
		return s.snapshotLocked(), ErrSuperseded
	}

	if err != nil {
		metrics.Analyses.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.state = StateFailed
		s.errMsg = "Analysis failed: " + failureCause(err)
		s.logger.Warn("analysis failed", zap.Uint64("token", token), zap.Error(err))
	} else {
		metrics.Analyses.WithLabelValues(metrics.OutcomeSuccess).Inc()
		result := parser.Parse(text)
		s.state = StateSuccess
		s.analysis = &result
		s.logger.Info("analysis completed",
			zap.Uint64("token", token),
			zap.String("fruit", result.FruitName),
			zap.String("ripeness", string(result.Ripeness)),
			zap.Int("score", result.NutritionScore))
	}

	s.publishLocked()
	return s.snapshotLocked(), nil
}

// RecipeImage lazily generates the illustration for the current analysis.
// A cached image is returned without calling the model again, and a call
// made while generation is in flight returns the loading snapshot at once.
func (s *Session) RecipeImage(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateSuccess || s.analysis == nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrNoAnalysis
	}
	if !s.analysis.HasRecipeIdea() {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrNoRecipeIdea
	}
	if s.recipeState == StateSuccess || s.recipeState == StateLoading {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}

	token := s.token
	prompt := ml.RecipeImagePrompt(s.analysis.RecipeIdea)
	s.recipeState = StateLoading
	s.recipeErr = ""
	s.publishLocked()
	s.mu.Unlock()

	img, err := s.model.GenerateImage(ctx, prompt)

	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token {
		metrics.RecipeImages.WithLabelValues(metrics.OutcomeSuperseded).Inc()
		return s.snapshotLocked(), ErrSuperseded
	}

	if err != nil {
		metrics.RecipeImages.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.recipeState = StateFailed
		s.recipeErr = RecipeImageError
		s.logger.Warn("recipe image generation failed", zap.Uint64("token", token), zap.Error(err))
	} else {
		metrics.RecipeImages.WithLabelValues(metrics.OutcomeSuccess).Inc()
		s.recipeState = StateSuccess
		s.recipeImage = img
	}

	s.publishLocked()
	return s.snapshotLocked(), nil
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Token: s.token,
		State: s.state,
		Error: s.errMsg,
		RecipeImage: RecipeImageSnapshot{
			State: s.recipeState,
			Error: s.recipeErr,
		},
	}
	if s.image != nil {
		snap.Image = s.image.DataURL()
	}
	if s.analysis != nil {
		a := *s.analysis
		snap.Analysis = &a
	}
	if s.recipeImage != nil {
		snap.RecipeImage.URL = s.recipeImage.DataURL()
	}
	return snap
}

func (s *Session) publishLocked() {
	if len(s.listeners) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, fn := range s.listeners {
		fn(snap)
	}
}

// failureCause is the client-visible reason for a failed analysis. Backend
// errors are reduced to their category; the full error is only logged.
func failureCause(err error) string {
	for _, known := range []error{
		ml.ErrRequestFailed,
		ml.ErrMalformedResponse,
		ml.ErrNotLoaded,
		ml.ErrUnsupported,
		context.DeadlineExceeded,
		context.Canceled,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
