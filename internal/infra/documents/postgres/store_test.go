package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"kolkostruva/internal/dimension"
)

func TestNewStoreOpenError(t *testing.T) {
	orig := sqlOpen
	t.Cleanup(func() { sqlOpen = orig })
	var gotDriver, gotDSN string
	sqlOpen = func(driver, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driver, dsn
		return nil, errors.New("boom")
	}
	_, err := NewStore(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	if gotDriver != "pgx" || gotDSN != defaultDSN {
		t.Fatalf("unexpected driver/dsn %s %s", gotDriver, gotDSN)
	}
}

func TestNewStorePingError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStore(ctx, "postgres://user:pw@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	if err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func openDocsStore(t *testing.T) (*Store, *docsDB) {
	t.Helper()
	db, dsn := useDocsDriver(t)
	s, err := NewStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, db
}

func fetchText(t *testing.T, s *Store, name string) string {
	t.Helper()
	rc, err := s.Fetch(context.Background(), name)
	if err != nil {
		t.Fatalf("fetch %s: %v", name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(b)
}

func TestNewStoreEnsuresTable(t *testing.T) {
	_, db := openDocsStore(t)
	if len(db.execs) != 1 || !strings.HasPrefix(db.execs[0], "CREATE TABLE IF NOT EXISTS documents") {
		t.Fatalf("expected table bootstrap, got %q", db.execs)
	}
}

func TestStorePutThenFetch(t *testing.T) {
	s, db := openDocsStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "dim_city.json", strings.NewReader(`{"dimensions":{}}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := fetchText(t, s, "dim_city.json"); got != `{"dimensions":{}}` {
		t.Fatalf("unexpected payload %q", got)
	}
	if err := s.Put(ctx, "dim_city.json", strings.NewReader(`{"dimensions":{"1":{"name":"София"}}}`)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := fetchText(t, s, "dim_city.json"); got != `{"dimensions":{"1":{"name":"София"}}}` {
		t.Fatalf("expected replaced payload, got %q", got)
	}
	if len(db.docs) != 1 || len(db.selectArg) != 2 || db.selectArg[0] != "dim_city.json" {
		t.Fatalf("unexpected driver state docs=%d selects=%q", len(db.docs), db.selectArg)
	}
}

func TestStoreFetchMissingDocument(t *testing.T) {
	s, _ := openDocsStore(t)
	_, err := s.Fetch(context.Background(), "dim_product.json")
	if !errors.Is(err, dimension.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "dim_product.json") {
		t.Fatalf("error should name the document: %v", err)
	}
}

func TestStoreFetchQueryError(t *testing.T) {
	s, db := openDocsStore(t)
	db.queryErr = errors.New("connection reset")
	_, err := s.Fetch(context.Background(), "dim_city.json")
	if err == nil || errors.Is(err, dimension.ErrDocumentNotFound) || !strings.Contains(err.Error(), "select document dim_city.json") {
		t.Fatalf("expected select error, got %v", err)
	}
}

func TestStorePutErrors(t *testing.T) {
	s, db := openDocsStore(t)
	ctx := context.Background()
	err := s.Put(ctx, "dim_city.json", iotest.ErrReader(errors.New("disk gone")))
	if err == nil || !strings.Contains(err.Error(), "read document dim_city.json") {
		t.Fatalf("expected read error, got %v", err)
	}

	db.execErr = errors.New("read-only transaction")
	err = s.Put(ctx, "dim_city.json", strings.NewReader("{}"))
	if err == nil || !strings.Contains(err.Error(), "upsert document dim_city.json") {
		t.Fatalf("expected upsert error, got %v", err)
	}
	if len(db.docs) != 0 {
		t.Fatalf("failed upsert must not store anything")
	}
}
