package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxConnectRetries = 10
	connectRetryDelay = 10 * time.Second
)

// Connect opens a pgx pool, retrying while the database comes up.
func Connect(ctx context.Context, dbURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse DATABASE_URL: %w", err)
	}

	var pool *pgxpool.Pool
	for i := 0; i < maxConnectRetries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				logger.Info("Successfully connected to the database")
				return pool, nil
			}
			pool.Close()
		}

		logger.Warn("Failed to connect to the database",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", maxConnectRetries),
			slog.String("error", err.Error()))
		if i < maxConnectRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(connectRetryDelay):
			}
		}
	}

	return nil, fmt.Errorf("failed to connect to the database after %d attempts: %w", maxConnectRetries, err)
}

// Migrate creates the vector extension and the schema. dims fixes the
// dimensionality of the passage embedding column.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	_, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("unable to create vector extension: %w", err)
	}

	for _, stmt := range postgresSchema(dims) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("unable to apply schema: %w", err)
		}
	}
	return nil
}

func postgresSchema(dims int) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
            id BIGSERIAL PRIMARY KEY,
            owner_id BIGINT NOT NULL,
            storage_used BIGINT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS documents (
            id BIGSERIAL PRIMARY KEY,
            account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
            file_name TEXT NOT NULL,
            file_size BIGINT NOT NULL,
            content_type TEXT NOT NULL,
            uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (account_id, file_name)
        )`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS passages (
            id BIGSERIAL PRIMARY KEY,
            document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
            account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
            file_name TEXT NOT NULL,
            content TEXT NOT NULL,
            embedding vector(%d) NOT NULL
        )`, dims),
		`CREATE INDEX IF NOT EXISTS idx_passages_account ON passages (account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_passages_document ON passages (document_id, id)`,
	}
}
