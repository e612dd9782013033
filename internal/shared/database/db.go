package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mrmushfiq/ridegate/internal/shared/models"
)

// ErrNotFound is returned when a credential row does not exist.
var ErrNotFound = errors.New("credential not found")

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id                    TEXT PRIMARY KEY,
	service_name          TEXT NOT NULL,
	key_name              TEXT NOT NULL,
	hashed_secret         TEXT NOT NULL,
	permissions           TEXT[] NOT NULL DEFAULT '{}',
	rate_limit_per_minute INTEGER NOT NULL DEFAULT 0,
	is_active             BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at            TIMESTAMPTZ,
	last_used_at          TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS gateway_logs (
	id            BIGSERIAL PRIMARY KEY,
	request_id    TEXT NOT NULL,
	provider      TEXT NOT NULL,
	operation     TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	attempts      INTEGER NOT NULL,
	latency_ms    INTEGER NOT NULL,
	success       BOOLEAN NOT NULL,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS gateway_logs_provider_created_idx ON gateway_logs (provider, created_at);
`

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks connectivity for the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Migrate creates the gateway tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateCredential inserts a new credential row.
func (db *DB) CreateCredential(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO credentials (
			id, service_name, key_name, hashed_secret, permissions,
			rate_limit_per_minute, is_active, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := db.conn.ExecContext(ctx, query,
		c.ID,
		c.ServiceName,
		c.KeyName,
		c.HashedSecret,
		pq.Array(c.Permissions),
		c.RateLimitPerMinute,
		c.IsActive,
		c.ExpiresAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential retrieves a credential by id regardless of its active flag;
// the caller decides how inactive or expired rows are reported.
func (db *DB) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	query := `
		SELECT id, service_name, key_name, hashed_secret, permissions, rate_limit_per_minute,
		       is_active, expires_at, last_used_at, created_at, updated_at
		FROM credentials
		WHERE id = $1
	`

	var c models.Credential
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.ServiceName,
		&c.KeyName,
		&c.HashedSecret,
		pq.Array(&c.Permissions),
		&c.RateLimitPerMinute,
		&c.IsActive,
		&c.ExpiresAt,
		&c.LastUsedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &c, nil
}

// TouchCredential updates the last_used_at timestamp
func (db *DB) TouchCredential(ctx context.Context, id string) error {
	query := `UPDATE credentials SET last_used_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, id)
	return err
}

// DeactivateCredential revokes a credential without deleting it.
func (db *DB) DeactivateCredential(ctx context.Context, id string) error {
	query := `UPDATE credentials SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	res, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LogRequest logs an outbound provider call chain
func (db *DB) LogRequest(ctx context.Context, log *models.RequestLog) error {
	query := `
		INSERT INTO gateway_logs (
			request_id, provider, operation, status_code, attempts,
			latency_ms, success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		log.RequestID,
		log.Provider,
		log.Operation,
		log.StatusCode,
		log.Attempts,
		log.LatencyMs,
		log.Success,
		log.ErrorMessage,
	)

	return err
}
