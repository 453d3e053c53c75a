package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Schema creates the tables used by Repository. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS originals (
    id           UUID PRIMARY KEY,
    storage_key  TEXT NOT NULL,
    url          TEXT NOT NULL,
    width        INTEGER NOT NULL DEFAULT 0,
    height       INTEGER NOT NULL DEFAULT 0,
    format       TEXT NOT NULL DEFAULT '',
    content_type TEXT NOT NULL DEFAULT '',
    size_bytes   BIGINT NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_originals_created_at ON originals (created_at, id);

CREATE TABLE IF NOT EXISTS derived_assets (
    image_id     UUID NOT NULL REFERENCES originals (id) ON DELETE CASCADE,
    variant      TEXT NOT NULL,
    object_key   TEXT NOT NULL,
    url          TEXT NOT NULL,
    width        INTEGER NOT NULL,
    height       INTEGER NOT NULL,
    size_bytes   BIGINT NOT NULL,
    content_type TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT derived_assets_image_variant_key UNIQUE (image_id, variant)
);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, Schema)
	return err
}

// EnsureSchema creates the Postgres schema the tables live in.
func EnsureSchema(ctx context.Context, db DBTX, schema string) error {
	if schema == "" {
		return nil
	}
	_, err := db.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize()))
	return err
}
