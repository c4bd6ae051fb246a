package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables the service owns. Statements are idempotent so
// every process can run them at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
    user_id       TEXT        NOT NULL,
    provider      TEXT        NOT NULL,
    access_token  TEXT        NOT NULL,
    refresh_token TEXT,
    token_secret  TEXT,
    expires_at    TIMESTAMPTZ,
    scope         TEXT,
    updated_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, provider)
);

CREATE TABLE IF NOT EXISTS daily_metrics (
    user_id      TEXT        NOT NULL,
    day          DATE        NOT NULL,
    values_json  JSONB       NOT NULL,
    data_sources JSONB       NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, day)
);

CREATE TABLE IF NOT EXISTS offline_queue (
    id         UUID        PRIMARY KEY,
    user_id    TEXT        NOT NULL,
    kind       TEXT        NOT NULL,
    payload    JSONB       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS offline_queue_created_idx
    ON offline_queue (created_at);

CREATE TABLE IF NOT EXISTS platform_samples (
    user_id     TEXT        NOT NULL,
    provider    TEXT        NOT NULL,
    day         DATE        NOT NULL,
    values_json JSONB       NOT NULL,
    ingested_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, provider, day)
);
`

// EnsureSchema applies the schema to the connected database.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
