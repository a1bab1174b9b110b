// Package pgstore implements the store contracts on Postgres.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ivg/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ivg_assets (
    id UUID PRIMARY KEY,
    owner TEXT NOT NULL,
    content_type TEXT NOT NULL,
    size BIGINT NOT NULL,
    role TEXT NOT NULL,
    filename TEXT,
    data BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ivg_assets_owner ON ivg_assets(owner);

CREATE TABLE IF NOT EXISTS ivg_styles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    rules TEXT NOT NULL,
    reference_asset_id UUID NOT NULL REFERENCES ivg_assets(id),
    profile JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ivg_history (
    seq BIGSERIAL PRIMARY KEY,
    id UUID NOT NULL UNIQUE,
    owner TEXT NOT NULL,
    job_id TEXT,
    job_kind TEXT NOT NULL,
    input_refs TEXT[] NOT NULL DEFAULT '{}',
    output_ref TEXT NOT NULL,
    style_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ivg_history_owner ON ivg_history(owner, seq DESC);
`

const uniqueViolation = "23505"

// Store is the Postgres store.Backend.
type Store struct {
	pool    *pgxpool.Pool
	assets  *Assets
	styles  *Styles
	history *History
}

// Open connects to dsn and creates the tables if needed.
func Open(ctx context.Context, dsn string, opts store.Options) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(connectCtx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{
		pool:    pool,
		assets:  &Assets{pool: pool},
		styles:  &Styles{pool: pool, rulesMax: opts.RulesMaxChars},
		history: &History{pool: pool, max: opts.HistoryMax},
	}, nil
}

func (s *Store) Assets() store.AssetStore   { return s.assets }
func (s *Store) Styles() store.StyleCatalog { return s.styles }
func (s *Store) History() store.HistoryLog  { return s.history }

// Close releases the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
