package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

// docsDriver is an in-memory database/sql driver that understands the
// statements Store issues against the documents table.
type docsDriver struct{}

const docsDriverName = "kolkostruva-docs"

var (
	docsMu  sync.Mutex
	docsDBs = map[string]*docsDB{}
)

func init() { sql.Register(docsDriverName, docsDriver{}) }

type docsDB struct {
	mu        sync.Mutex
	docs      map[string][]byte
	execs     []string
	execErr   error
	queryErr  error
	selectArg []string
}

// useDocsDriver routes sqlOpen to a fresh in-memory database keyed by the test
// name and returns the DSN to pass to NewStore.
func useDocsDriver(t *testing.T) (*docsDB, string) {
	t.Helper()
	dsn := t.Name()
	db := &docsDB{docs: make(map[string][]byte)}
	docsMu.Lock()
	docsDBs[dsn] = db
	docsMu.Unlock()
	orig := sqlOpen
	sqlOpen = func(_, dsn string) (*sql.DB, error) { return sql.Open(docsDriverName, dsn) }
	t.Cleanup(func() {
		sqlOpen = orig
		docsMu.Lock()
		delete(docsDBs, dsn)
		docsMu.Unlock()
	})
	return db, dsn
}

func (docsDriver) Open(dsn string) (driver.Conn, error) {
	docsMu.Lock()
	defer docsMu.Unlock()
	db, ok := docsDBs[dsn]
	if !ok {
		return nil, fmt.Errorf("no database %q", dsn)
	}
	return &docsConn{db: db}, nil
}

type docsConn struct{ db *docsDB }

func (c *docsConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *docsConn) Close() error { return nil }

func (c *docsConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *docsConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	query = strings.TrimSpace(query)
	c.db.execs = append(c.db.execs, query)
	switch {
	case strings.HasPrefix(query, "CREATE TABLE IF NOT EXISTS documents"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(query, "INSERT INTO documents(name, payload)") && strings.Contains(query, "ON CONFLICT (name) DO UPDATE"):
		if c.db.execErr != nil {
			return nil, c.db.execErr
		}
		name, _ := args[0].Value.(string)
		payload, _ := args[1].Value.([]byte)
		c.db.docs[name] = bytes.Clone(payload)
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unexpected exec %q", query)
}

func (c *docsConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if query != `SELECT payload FROM documents WHERE name = $1` {
		return nil, fmt.Errorf("unexpected query %q", query)
	}
	if c.db.queryErr != nil {
		return nil, c.db.queryErr
	}
	name, _ := args[0].Value.(string)
	c.db.selectArg = append(c.db.selectArg, name)
	rows := &docsRows{}
	if payload, ok := c.db.docs[name]; ok {
		rows.payloads = [][]byte{bytes.Clone(payload)}
	}
	return rows, nil
}

type docsRows struct {
	payloads [][]byte
	next     int
}

func (r *docsRows) Columns() []string { return []string{"payload"} }

func (r *docsRows) Close() error { return nil }

func (r *docsRows) Next(dest []driver.Value) error {
	if r.next >= len(r.payloads) {
		return io.EOF
	}
	dest[0] = r.payloads[r.next]
	r.next++
	return nil
}
