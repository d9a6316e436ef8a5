package store

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id              BIGSERIAL PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		hashed_password BYTEA NOT NULL,
		role            TEXT NOT NULL DEFAULT 'customer',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(id),
		total_cents BIGINT NOT NULL,
		item_count  INT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id   BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL,
		quantity   INT NOT NULL,
		unit_cents BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS online_users (
		id                  BIGSERIAL PRIMARY KEY,
		browser_id          TEXT NOT NULL,
		user_type           TEXT NOT NULL CHECK (user_type IN ('guest', 'customer')),
		customer_id         BIGINT,
		ip_address          TEXT NOT NULL DEFAULT '',
		user_agent          TEXT NOT NULL DEFAULT '',
		source              TEXT NOT NULL DEFAULT 'web',
		page_url            TEXT NOT NULL DEFAULT '',
		session_history     JSONB NOT NULL DEFAULT '[]',
		session_phases      JSONB NOT NULL DEFAULT '[]',
		ip_history          JSONB NOT NULL DEFAULT '[]',
		total_page_views    BIGINT NOT NULL DEFAULT 0,
		guest_page_views    BIGINT NOT NULL DEFAULT 0,
		customer_page_views BIGINT NOT NULL DEFAULT 0,
		login_time          TIMESTAMPTZ,
		last_activity       TIMESTAMPTZ NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_online_users_browser ON online_users (browser_id)`,
	// one live customer session per customer
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_online_users_customer ON online_users (customer_id) WHERE user_type = 'customer'`,
	`CREATE INDEX IF NOT EXISTS idx_online_users_last_activity ON online_users (last_activity)`,
}

// EnsurePostgresSchema creates the tables and indexes if they do not exist.
func EnsurePostgresSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range postgresSchema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
