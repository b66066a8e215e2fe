// Package postgres keeps raw dataset documents in a Postgres table.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"kolkostruva/internal/dimension"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/kolkostruva?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store serves documents from the documents table.
type Store struct {
	db *sql.DB
}

// NewStore connects to dsn (falls back to a local default) and ensures the
// documents table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		payload BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure documents table: %w", err)
	}
	return nil
}

// Fetch returns the named document.
func (s *Store) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM documents WHERE name = $1`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, dimension.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select document %s: %w", name, err)
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

// Put inserts or replaces the named document.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read document %s: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(name, payload) VALUES($1, $2)
		 ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		name, payload); err != nil {
		return fmt.Errorf("upsert document %s: %w", name, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }
