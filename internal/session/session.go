// Package session holds per-user application state: who the user is, their
// postal code preference and their analysis orchestrator.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/database"
	"github.com/franckalain/fruitbeast/internal/ml"
	"github.com/franckalain/fruitbeast/internal/orchestrator"
)

// ErrInvalidPostalCode is returned before anything is persisted
var ErrInvalidPostalCode = errors.New("Please enter a valid 5-digit zip code.")

var postalCodeRe = regexp.MustCompile(`^\d{5}$`)

// ValidatePostalCode checks the 5-digit format
func ValidatePostalCode(zip string) error {
	if !postalCodeRe.MatchString(zip) {
		return ErrInvalidPostalCode
	}
	return nil
}

// Preferences is the preference storage used by sessions
type Preferences interface {
	GetPreference(ctx context.Context, userID, key string) (string, error)
	SetPreference(ctx context.Context, userID, key, value string) error
}

// Session is the application context of one user
type Session struct {
	UserID   string
	Analysis *orchestrator.Session

	prefs Preferences

	mu         sync.RWMutex
	postalCode string
}

// PostalCode returns the stored postal code, "" when unset
func (s *Session) PostalCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.postalCode
}

// NeedsPostalCode reports whether the first-run postal code prompt applies
func (s *Session) NeedsPostalCode() bool {
	return s.PostalCode() == ""
}

// SetPostalCode validates and persists a new postal code
func (s *Session) SetPostalCode(ctx context.Context, zip string) error {
	zip = strings.TrimSpace(zip)
	if err := ValidatePostalCode(zip); err != nil {
		return err
	}
	if err := s.prefs.SetPreference(ctx, s.UserID, database.PrefPostalCode, zip); err != nil {
		return fmt.Errorf("failed to save postal code: %w", err)
	}
	s.mu.Lock()
	s.postalCode = zip
	s.mu.Unlock()
	return nil
}

// Suggestion returns today's fruit suggestion
func (s *Session) Suggestion() string {
	return Suggestion(s.PostalCode())
}

// Suggestion builds the suggestion text for a postal code
func Suggestion(zip string) string {
	if zip == "" {
		return "Try a ripe banana today! It's great for potassium and provides a natural energy boost."
	}
	return fmt.Sprintf("Fruit suggestion for %s: Try a ripe banana today!", zip)
}

// ReminderText is the body of the snack reminder notification
func ReminderText(suggestion string) string {
	head, _, _ := strings.Cut(suggestion, "!")
	return fmt.Sprintf("Time for a healthy snack! How about that %s?", head)
}

// Manager creates sessions on first use and keeps them for the process lifetime
type Manager struct {
	model  ml.Model
	prefs  Preferences
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager
func NewManager(model ml.Model, prefs Preferences, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		model:    model,
		prefs:    prefs,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session of userID, loading persisted preferences the
// first time the user is seen.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	zip, err := m.prefs.GetPreference(ctx, userID, database.PrefPostalCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	s := &Session{
		UserID:     userID,
		Analysis:   orchestrator.NewSession(m.model, m.logger.With(zap.String("user", userID))),
		prefs:      m.prefs,
		postalCode: zip,
	}
	m.sessions[userID] = s
	m.logger.Debug("session created", zap.String("user", userID), zap.Bool("has_postal_code", zip != ""))
	return s, nil
}

// Each calls fn for every live session
func (m *Manager) Each(fn func(*Session)) {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	for _, s := range list {
		fn(s)
	}
}
