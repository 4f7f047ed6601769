package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/franckalain/fruitbeast/internal/models"
)

//go:embed schema.sql schema_postgres.sql
var schemaFS embed.FS

// Preference keys
const (
	PrefPostalCode = "postal_code"
)

// Backend names accepted in Config.Driver
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the storage backend
type Config struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"` // sqlite file
	URL    string `koanf:"url"`  // postgres connection string
}

// DB interface defines the methods our database should implement
type DB interface {
	SaveFruitLog(ctx context.Context, entry *models.FruitLogEntry) error
	// ListFruitLogs returns the entries owned by userID, newest first. An
	// empty userID lists every entry.
	ListFruitLogs(ctx context.Context, userID string) ([]*models.FruitLogEntry, error)

	// GetPreference returns "" when the preference was never set.
	GetPreference(ctx context.Context, userID, key string) (string, error)
	SetPreference(ctx context.Context, userID, key, value string) error

	SaveUser(ctx context.Context, user *models.User) error
	// GetUser and GetUserByEmail return nil, nil when no user matches.
	GetUser(ctx context.Context, uid string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	Close() error
}

// Open connects to the configured backend
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (DB, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewSQLiteDB(cfg.Path, logger)
	case DriverPostgres:
		return NewPostgresDB(ctx, cfg.URL, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// timestamps are stored as fixed-width UTC text so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// rows written by other tools
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string, logger *zap.Logger) (*SQLiteDB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	// Initialize database schema
	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	logger.Info("database schema initialized", zap.String("driver", DriverSQLite), zap.String("path", dbPath))
	return &SQLiteDB{db: db, logger: logger}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

// SaveFruitLog inserts a log entry. Entries are never updated.
func (s *SQLiteDB) SaveFruitLog(ctx context.Context, e *models.FruitLogEntry) error {
	query := `
		INSERT INTO fruit_logs (
			id, date_key, fruit_name, nutrition_score, nutrition, ripeness,
			shelf_period, wait_time, calories, vitamins, notes, user_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Date, e.FruitName, e.NutritionScore, e.Nutrition, string(e.Ripeness),
		e.ShelfPeriod, e.WaitTime, e.Calories, e.Vitamins, e.Notes, e.UserID,
		formatTime(e.CreatedAt),
	)
	return err
}

// ListFruitLogs retrieves log entries, most recent first
func (s *SQLiteDB) ListFruitLogs(ctx context.Context, userID string) ([]*models.FruitLogEntry, error) {
	query := `
		SELECT id, date_key, fruit_name, nutrition_score, nutrition, ripeness,
			shelf_period, wait_time, calories, vitamins, notes, user_id, created_at
		FROM fruit_logs
		WHERE (? = '' OR user_id = ?)
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.FruitLogEntry
	for rows.Next() {
		var e models.FruitLogEntry
		var ripeness, createdAt string

		err := rows.Scan(
			&e.ID, &e.Date, &e.FruitName, &e.NutritionScore, &e.Nutrition, &ripeness,
			&e.ShelfPeriod, &e.WaitTime, &e.Calories, &e.Vitamins, &e.Notes, &e.UserID,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		e.Ripeness = models.Ripeness(ripeness)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			s.logger.Warn("unparseable fruit log timestamp", zap.String("id", e.ID), zap.String("created_at", createdAt))
		}

		results = append(results, &e)
	}

	return results, rows.Err()
}

// GetPreference reads one stored preference value
func (s *SQLiteDB) GetPreference(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE user_id = ? AND key = ?`, userID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetPreference upserts one preference value
func (s *SQLiteDB) SetPreference(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, userID, key, value, formatTime(time.Now()))
	return err
}

// SaveUser stores a user the first time it signs in
func (s *SQLiteDB) SaveUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (uid, email, is_anonymous, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO NOTHING
	`, u.UID, u.Email, u.IsAnonymous, u.PasswordHash, formatTime(u.CreatedAt))
	return err
}

// GetUser looks a user up by id
func (s *SQLiteDB) GetUser(ctx context.Context, uid string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT uid, email, is_anonymous, password_hash, created_at FROM users WHERE uid = ?
	`, uid))
}

// GetUserByEmail looks up a registered (non-anonymous) user
func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT uid, email, is_anonymous, password_hash, created_at
		FROM users WHERE email = ? AND is_anonymous = 0
	`, email))
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var createdAt string
	err := row.Scan(&u.UID, &u.Email, &u.IsAnonymous, &u.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt, _ = parseTime(createdAt)
	return u, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
