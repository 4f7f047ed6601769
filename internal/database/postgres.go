package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/models"
)

// PostgresDB implements the DB interface on a pgx connection pool
type PostgresDB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDB connects to Postgres and applies the schema
func NewPostgresDB(ctx context.Context, url string, logger *zap.Logger) (*PostgresDB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if url == "" {
		return nil, errors.New("database.url is required for the postgres driver")
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	schema, err := schemaFS.ReadFile("schema_postgres.sql")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error reading schema file: %w", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error executing schema: %w", err)
	}

	logger.Info("database schema initialized", zap.String("driver", DriverPostgres))
	return &PostgresDB{pool: pool, logger: logger}, nil
}

func (p *PostgresDB) SaveFruitLog(ctx context.Context, e *models.FruitLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO fruit_logs (
			id, date_key, fruit_name, nutrition_score, nutrition, ripeness,
			shelf_period, wait_time, calories, vitamins, notes, user_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		e.ID, e.Date, e.FruitName, e.NutritionScore, e.Nutrition, string(e.Ripeness),
		e.ShelfPeriod, e.WaitTime, e.Calories, e.Vitamins, e.Notes, e.UserID, e.CreatedAt,
	)
	return err
}

func (p *PostgresDB) ListFruitLogs(ctx context.Context, userID string) ([]*models.FruitLogEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, date_key, fruit_name, nutrition_score, nutrition, ripeness,
			shelf_period, wait_time, calories, vitamins, notes, user_id, created_at
		FROM fruit_logs
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.FruitLogEntry
	for rows.Next() {
		var e models.FruitLogEntry
		var ripeness string
		if err := rows.Scan(
			&e.ID, &e.Date, &e.FruitName, &e.NutritionScore, &e.Nutrition, &ripeness,
			&e.ShelfPeriod, &e.WaitTime, &e.Calories, &e.Vitamins, &e.Notes, &e.UserID,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Ripeness = models.Ripeness(ripeness)
		results = append(results, &e)
	}
	return results, rows.Err()
}

func (p *PostgresDB) GetPreference(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM preferences WHERE user_id = $1 AND key = $2`, userID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (p *PostgresDB) SetPreference(ctx context.Context, userID, key, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO preferences (user_id, key, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, userID, key, value, time.Now())
	return err
}

func (p *PostgresDB) SaveUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (uid, email, is_anonymous, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uid) DO NOTHING
	`, u.UID, u.Email, u.IsAnonymous, u.PasswordHash, u.CreatedAt)
	return err
}

func (p *PostgresDB) GetUser(ctx context.Context, uid string) (*models.User, error) {
	return scanPgUser(p.pool.QueryRow(ctx, `
		SELECT uid, email, is_anonymous, password_hash, created_at FROM users WHERE uid = $1
	`, uid))
}

func (p *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanPgUser(p.pool.QueryRow(ctx, `
		SELECT uid, email, is_anonymous, password_hash, created_at
		FROM users WHERE email = $1 AND NOT is_anonymous
	`, email))
}

func scanPgUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.UID, &u.Email, &u.IsAnonymous, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}
