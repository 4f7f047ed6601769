// Package auth signs users in and attaches the acting user to requests.
//
// With auth disabled every request runs as models.DemoUserID.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/franckalain/fruitbeast/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already exists")
	ErrMissingFields      = errors.New("missing required fields")
)

// Config holds auth settings
type Config struct {
	Enabled   bool          `koanf:"enabled"`
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// Validate checks that an enabled config can sign tokens
func (c Config) Validate() error {
	if c.Enabled && c.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

// UserRepository is the user storage the service depends on
type UserRepository interface {
	SaveUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, uid string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Service handles guest, register and login flows
type Service struct {
	cfg    Config
	repo   UserRepository
	tokens *Tokens
	logger *zap.Logger
}

// NewService creates an auth service
func NewService(cfg Config, repo UserRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:    cfg,
		repo:   repo,
		tokens: NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		logger: logger,
	}
}

// Enabled reports whether requests must carry a token
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Session is the result of a successful sign-in
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Guest creates an anonymous user
func (s *Service) Guest(ctx context.Context) (*Session, error) {
	u := &models.User{UID: uuid.New().String(), IsAnonymous: true, CreatedAt: time.Now()}
	if err := s.repo.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	s.logger.Info("guest signed in", zap.String("user", u.UID))
	return s.issue(u)
}

// Register creates an email account
func (s *Service) Register(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		UID:          uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.repo.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	s.logger.Info("user registered", zap.String("user", u.UID))
	return s.issue(u)
}

// Login checks an email and password
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

// Authenticate resolves a token to a user id
func (s *Service) Authenticate(token string) (string, error) {
	return s.tokens.Validate(token)
}

func (s *Service) issue(u *models.User) (*Session, error) {
	token, err := s.tokens.Generate(u.UID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
