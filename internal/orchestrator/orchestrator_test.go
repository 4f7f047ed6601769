package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/ml"
	"github.com/franckalain/fruitbeast/internal/models"
)

// fakeModel answers each Analyze call from a per-image channel so tests can
// control the order in which responses arrive.
type fakeModel struct {
	mu        sync.Mutex
	analyze   map[string]chan result
	imageFn   func(prompt string) (*models.Image, error)
	imageHits int
}

type result struct {
	text string
	err  error
}

func newFakeModel() *fakeModel {
	return &fakeModel{analyze: make(map[string]chan result)}
}

func (f *fakeModel) gate(key string) chan result {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.analyze[key]
	if !ok {
		ch = make(chan result, 1)
		f.analyze[key] = ch
	}
	return ch
}

func (f *fakeModel) Load(ctx context.Context) error { return nil }
func (f *fakeModel) Close() error                   { return nil }

func (f *fakeModel) Analyze(ctx context.Context, img models.Image) (string, error) {
	select {
	case r := <-f.gate(string(img.Data)):
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeModel) GenerateImage(ctx context.Context, prompt string) (*models.Image, error) {
	f.mu.Lock()
	f.imageHits++
	fn := f.imageFn
	f.mu.Unlock()
	return fn(prompt)
}

func response(fruit string) string {
	return fmt.Sprintf("**Fruit Name**: %s\n**Main Analysis**: It is unripe.\n**Metadata**\n- **Recipe Idea**: %s salad\n- **Nutrition Score**: 40", fruit, fruit)
}

func img(key string) models.Image {
	return models.Image{MimeType: "image/png", Data: []byte(key)}
}

func TestSession_InitialState(t *testing.T) {
	s := NewSession(newFakeModel(), zap.NewNop())
	snap := s.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, StateIdle, snap.RecipeImage.State)
	assert.Nil(t, snap.Analysis)
	assert.Nil(t, s.Current())
}

func TestSession_AnalyzeSuccess(t *testing.T) {
	model := newFakeModel()
	s := NewSession(model, zap.NewNop())

	var states []State
	s.OnChange(func(snap Snapshot) { states = append(states, snap.State) })

	model.gate("a") <- result{text: response("Pear")}
	snap, err := s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, snap.State)
	require.NotNil(t, snap.Analysis)
	assert.Equal(t, "Pear", snap.Analysis.FruitName)
	assert.Equal(t, models.RipenessUnripe, snap.Analysis.Ripeness)
	assert.Equal(t, 40, snap.Analysis.NutritionScore)
	assert.Contains(t, snap.Image, "data:image/png;base64,")
	assert.Equal(t, []State{StateLoading, StateSuccess}, states)
	assert.Equal(t, "Pear", s.Current().FruitName)
}

func TestSession_LoadingShowsImageBeforeResponse(t *testing.T) {
	model := newFakeModel()
	s := NewSession(model, zap.NewNop())

	loading := make(chan Snapshot, 1)
	s.OnChange(func(snap Snapshot) {
		if snap.State == StateLoading {
			loading <- snap
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Analyze(context.Background(), img("slow"))
	}()

	snap := <-loading
	assert.NotEmpty(t, snap.Image)
	assert.Nil(t, snap.Analysis)

	model.gate("slow") <- result{text: response("Fig")}
	<-done
}

func TestSession_AnalyzeFailure(t *testing.T) {
	model := newFakeModel()
	s := NewSession(model, zap.NewNop())

	model.gate("a") <- result{err: fmt.Errorf("%w: status 503", ml.ErrRequestFailed)}
	snap, err := s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)

	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "Analysis failed: inference request failed", snap.Error)
	assert.Nil(t, snap.Analysis)
	assert.Nil(t, s.Current())
}

func TestSession_FailureThenNewCaptureRestarts(t *testing.T) {
	model := newFakeModel()
	s := NewSession(model, zap.NewNop())

	model.gate("a") <- result{err: ml.ErrMalformedResponse}
	snap, err := s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)
	require.Equal(t, StateFailed, snap.State)

	model.gate("b") <- result{text: response("Plum")}
	snap, err = s.Analyze(context.Background(), img("b"))
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, snap.State)
	assert.Empty(t, snap.Error)
}

func TestSession_StaleResponseIsDiscarded(t *testing.T) {
	model := newFakeModel()
	s := NewSession(model, zap.NewNop())

	firstErr := make(chan error, 1)
	started := make(chan struct{})
	s.OnChange(func(snap Snapshot) {
		if snap.Token == 1 && snap.State == StateLoading {
			close(started)
		}
	})
	go func() {
		_, err := s.Analyze(context.Background(), img("first"))
		firstErr <- err
	}()
	<-started

	// The second capture completes first...
	model.gate("second") <- result{text: response("Lime")}
	snap, err := s.Analyze(context.Background(), img("second"))
	require.NoError(t, err)
	assert.Equal(t, "Lime", snap.Analysis.FruitName)

	// ...then the first one arrives late and must not overwrite it.
	model.gate("first") <- result{text: response("Lemon")}
	assert.ErrorIs(t, <-firstErr, ErrSuperseded)

	final := s.Snapshot()
	assert.Equal(t, uint64(2), final.Token)
	assert.Equal(t, StateSuccess, final.State)
	assert.Equal(t, "Lime", final.Analysis.FruitName)
}

func TestSession_StaleFailureIsDiscarded(t *testing.T) {
	model := newFakeModel()
	s := NewSession(model, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	started := make(chan struct{})
	var once sync.Once
	s.OnChange(func(snap Snapshot) {
		if snap.State == StateLoading {
			once.Do(func() { close(started) })
		}
	})
	go func() {
		_, err := s.Analyze(ctx, img("first"))
		firstErr <- err
	}()
	<-started

	model.gate("second") <- result{text: response("Kiwi")}
	_, err := s.Analyze(context.Background(), img("second"))
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, <-firstErr, ErrSuperseded)
	assert.Equal(t, StateSuccess, s.Snapshot().State)
}

func TestSession_RecipeImageCached(t *testing.T) {
	model := newFakeModel()
	model.imageFn = func(prompt string) (*models.Image, error) {
		assert.Contains(t, prompt, "Peach salad")
		return &models.Image{MimeType: "image/png", Data: []byte("png")}, nil
	}
	s := NewSession(model, zap.NewNop())

	model.gate("a") <- result{text: response("Peach")}
	_, err := s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)

	snap, err := s.RecipeImage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, snap.RecipeImage.State)
	assert.Equal(t, "data:image/png;base64,cG5n", snap.RecipeImage.URL)

	snap, err = s.RecipeImage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, snap.RecipeImage.State)
	assert.Equal(t, 1, model.imageHits)
}

func TestSession_RecipeImageFailureCanRetry(t *testing.T) {
	model := newFakeModel()
	calls := 0
	model.imageFn = func(prompt string) (*models.Image, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return &models.Image{MimeType: "image/png", Data: []byte("ok")}, nil
	}
	s := NewSession(model, zap.NewNop())

	model.gate("a") <- result{text: response("Melon")}
	_, err := s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)

	snap, err := s.RecipeImage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, snap.RecipeImage.State)
	assert.Equal(t, RecipeImageError, snap.RecipeImage.Error)

	snap, err = s.RecipeImage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, snap.RecipeImage.State)
}

func TestSession_RecipeImageResetOnNewCapture(t *testing.T) {
	model := newFakeModel()
	model.imageFn = func(prompt string) (*models.Image, error) {
		return &models.Image{MimeType: "image/png", Data: []byte("x")}, nil
	}
	s := NewSession(model, zap.NewNop())

	model.gate("a") <- result{text: response("Apple")}
	_, err := s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)
	_, err = s.RecipeImage(context.Background())
	require.NoError(t, err)

	model.gate("b") <- result{text: response("Grape")}
	snap, err := s.Analyze(context.Background(), img("b"))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.RecipeImage.State)
	assert.Empty(t, snap.RecipeImage.URL)
}

func TestSession_RecipeImageRequiresAnalysis(t *testing.T) {
	model := newFakeModel()
	s := NewSession(model, zap.NewNop())

	_, err := s.RecipeImage(context.Background())
	assert.ErrorIs(t, err, ErrNoAnalysis)

	model.gate("a") <- result{text: "**Fruit Name**: Cherry"}
	_, err = s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)

	_, err = s.RecipeImage(context.Background())
	assert.ErrorIs(t, err, ErrNoRecipeIdea)
}

func TestSession_StaleRecipeImageDropped(t *testing.T) {
	model := newFakeModel()
	release := make(chan struct{})
	model.imageFn = func(prompt string) (*models.Image, error) {
		<-release
		return &models.Image{MimeType: "image/png", Data: []byte("old")}, nil
	}
	s := NewSession(model, zap.NewNop())

	model.gate("a") <- result{text: response("Apricot")}
	_, err := s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)

	recipeErr := make(chan error, 1)
	go func() {
		_, err := s.RecipeImage(context.Background())
		recipeErr <- err
	}()
	require.Eventually(t, func() bool {
		return s.Snapshot().RecipeImage.State == StateLoading
	}, time.Second, 5*time.Millisecond)

	model.gate("b") <- result{text: response("Quince")}
	_, err = s.Analyze(context.Background(), img("b"))
	require.NoError(t, err)

	close(release)
	assert.ErrorIs(t, <-recipeErr, ErrSuperseded)
	assert.Equal(t, StateIdle, s.Snapshot().RecipeImage.State)
}

func TestSession_OnChangeRemove(t *testing.T) {
	model := newFakeModel()
	s := NewSession(model, zap.NewNop())

	calls := 0
	remove := s.OnChange(func(Snapshot) { calls++ })
	remove()

	model.gate("a") <- result{text: response("Date")}
	_, err := s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestSession_FailureHidesBackendDetail(t *testing.T) {
	model := newFakeModel()
	s := NewSession(model, zap.NewNop())

	cause := fmt.Errorf("%w: Post \"http://gemini/models/m:generateContent?key=SECRET123\": connection refused", ml.ErrRequestFailed)
	model.gate("a") <- result{err: cause}
	snap, err := s.Analyze(context.Background(), img("a"))
	require.NoError(t, err)

	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "Analysis failed: inference request failed", snap.Error)
	assert.NotContains(t, snap.Error, "SECRET123")
}

func TestSession_OnChangeRemoveReleasesListener(t *testing.T) {
	s := NewSession(newFakeModel(), zap.NewNop())

	for i := 0; i < 100; i++ {
		remove := s.OnChange(func(Snapshot) {})
		remove()
	}
	calls := 0
	remove := s.OnChange(func(Snapshot) { calls++ })

	s.mu.Lock()
	assert.Len(t, s.listeners, 1)
	s.mu.Unlock()

	remove()
	remove()
	s.mu.Lock()
	assert.Empty(t, s.listeners)
	s.mu.Unlock()
	assert.Zero(t, calls)
}
