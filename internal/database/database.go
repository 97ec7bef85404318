package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	cfg.MaxConnLifetime = time.Hour
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Migrate creates the idempotency table if it does not exist yet. The
// expires_at index backs the periodic purge, standing in for the native
// record expiry a managed key-value store would provide.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_records (
	request_id   TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	issue_number BIGINT,
	issue_url    TEXT,
	comment_id   BIGINT,
	error        TEXT,
	created_at   BIGINT NOT NULL,
	expires_at   BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_expires_at ON idempotency_records (expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
