package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Store is the sqlite Backend.
type Store struct {
	db      *sql.DB
	ownsDB  bool
	opts    Options
	assets  *SQLiteAssets
	styles  *SQLiteStyles
	history *SQLiteHistory
}

// Open opens the sqlite database at path and prepares the catalog tables.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New prepares the catalog tables on an existing connection. The caller
// keeps ownership of db.
func New(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	if err := EnsureSchema(ctx, db, "catalog", schemaVersion, schemaSQL); err != nil {
		return nil, err
	}
	s := &Store{db: db, opts: opts}
	s.assets = &SQLiteAssets{db: db}
	s.styles = &SQLiteStyles{db: db, rulesMax: opts.RulesMaxChars}
	s.history = &SQLiteHistory{db: db, max: opts.HistoryMax}
	return s, nil
}

func (s *Store) Assets() AssetStore   { return s.assets }
func (s *Store) Styles() StyleCatalog { return s.styles }
func (s *Store) History() HistoryLog  { return s.history }

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if s == nil || s.db == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *Store) String() string {
	return fmt.Sprintf("sqlite(history_max=%d)", s.opts.HistoryMax)
}

func execWithRetry(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := RetryOnBusy(ctx, func() error {
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}
