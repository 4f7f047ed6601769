package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/database"
	"github.com/franckalain/fruitbeast/internal/ml"
)

type memPrefs struct {
	values map[string]string
	sets   int
	err    error
}

func newMemPrefs() *memPrefs { return &memPrefs{values: map[string]string{}} }

func (p *memPrefs) GetPreference(ctx context.Context, userID, key string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.values[userID+"/"+key], nil
}

func (p *memPrefs) SetPreference(ctx context.Context, userID, key, value string) error {
	if p.err != nil {
		return p.err
	}
	p.sets++
	p.values[userID+"/"+key] = value
	return nil
}

func localModel(t *testing.T) ml.Model {
	t.Helper()
	cfg := ml.DefaultConfig()
	cfg.Type = ml.BackendLocal
	m, err := ml.NewModel(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))
	return m
}

func TestValidatePostalCode(t *testing.T) {
	valid := []string{"94107", "00501"}
	invalid := []string{"", "1234", "123456", "12a45", " 9410", "94107-1234"}

	for _, z := range valid {
		assert.NoError(t, ValidatePostalCode(z), z)
	}
	for _, z := range invalid {
		assert.ErrorIs(t, ValidatePostalCode(z), ErrInvalidPostalCode, z)
	}
}

func TestManager_LoadsPersistedPostalCode(t *testing.T) {
	prefs := newMemPrefs()
	prefs.values["u1/"+database.PrefPostalCode] = "94107"
	m := NewManager(localModel(t), prefs, zap.NewNop())

	s, err := m.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "94107", s.PostalCode())
	assert.False(t, s.NeedsPostalCode())

	again, err := m.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Same(t, s, again)

	other, err := m.Get(context.Background(), "u2")
	require.NoError(t, err)
	assert.True(t, other.NeedsPostalCode())
	assert.NotSame(t, s.Analysis, other.Analysis)
}

func TestManager_PreferenceLoadError(t *testing.T) {
	prefs := newMemPrefs()
	prefs.err = errors.New("disk gone")
	m := NewManager(localModel(t), prefs, zap.NewNop())

	_, err := m.Get(context.Background(), "u1")
	assert.ErrorContains(t, err, "disk gone")
}

func TestSession_SetPostalCode(t *testing.T) {
	prefs := newMemPrefs()
	m := NewManager(localModel(t), prefs, zap.NewNop())
	s, err := m.Get(context.Background(), "u1")
	require.NoError(t, err)

	err = s.SetPostalCode(context.Background(), "9410")
	assert.ErrorIs(t, err, ErrInvalidPostalCode)
	assert.Equal(t, "Please enter a valid 5-digit zip code.", err.Error())
	assert.Zero(t, prefs.sets, "invalid input must not reach storage")

	require.NoError(t, s.SetPostalCode(context.Background(), " 94107 "))
	assert.Equal(t, "94107", s.PostalCode())
	assert.Equal(t, "94107", prefs.values["u1/"+database.PrefPostalCode])
}

func TestSuggestion(t *testing.T) {
	assert.Equal(t, "Fruit suggestion for 94107: Try a ripe banana today!", Suggestion("94107"))
	assert.Contains(t, Suggestion(""), "great for potassium")
}

func TestReminderText(t *testing.T) {
	assert.Equal(t,
		"Time for a healthy snack! How about that Try a ripe banana today?",
		ReminderText("Try a ripe banana today! It's great for potassium."))
}

func TestManager_Each(t *testing.T) {
	m := NewManager(localModel(t), newMemPrefs(), zap.NewNop())
	for _, u := range []string{"a", "b", "c"} {
		_, err := m.Get(context.Background(), u)
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	m.Each(func(s *Session) { seen[s.UserID] = true })
	assert.Len(t, seen, 3)
}
