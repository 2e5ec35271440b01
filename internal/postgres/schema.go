package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		product_id TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		category   TEXT NOT NULL DEFAULT 'trackable',
		stock      BIGINT NOT NULL CHECK (stock >= 0),
		in_stock   BOOLEAN NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                UUID PRIMARY KEY,
		session_id        TEXT NOT NULL UNIQUE,
		payment_intent_id TEXT UNIQUE,
		gateway           TEXT NOT NULL,
		customer_id       TEXT NOT NULL,
		customer          JSONB NOT NULL DEFAULT '{}',
		shipping          JSONB NOT NULL DEFAULT '{}',
		items             JSONB NOT NULL,
		currency          TEXT NOT NULL,
		subtotal          BIGINT NOT NULL,
		tax               BIGINT NOT NULL,
		shipping_fee      BIGINT NOT NULL,
		discount          BIGINT NOT NULL,
		total             BIGINT NOT NULL,
		status            TEXT NOT NULL,
		payment_status    TEXT NOT NULL,
		status_reason     TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		paid_at           TIMESTAMPTZ,
		version           INTEGER NOT NULL DEFAULT 1
	)`,
	`ALTER TABLE inventory ALTER COLUMN stock TYPE BIGINT`,
	`CREATE INDEX IF NOT EXISTS orders_pending_idx ON orders (gateway, created_at) WHERE status = 'pending'`,
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
