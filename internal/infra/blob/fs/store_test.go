package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kolkostruva/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "exports/r1.csv", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"report": "locations"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "exports/r1.csv" || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "exports/r1.csv", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	h, err := store.Head(ctx, "exports/r1.csv")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	g, rc, err := store.Get(ctx, "exports/r1.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != "hello" || g.ETag != h.ETag || g.Metadata["report"] != "locations" {
		t.Fatalf("unexpected get artifacts %q %+v", b, g)
	}
	list, err := store.List(ctx, "exports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "exports/r1.csv" {
		t.Fatalf("unexpected list %+v", list)
	}
	ok, err := store.Delete(ctx, "exports/r1.csv")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "exports", "r1.csv.meta")); !os.IsNotExist(err) {
		t.Fatalf("expected sidecar removed, stat err=%v", err)
	}
	if ok, err := store.Delete(ctx, "exports/r1.csv"); ok || err != nil {
		t.Fatalf("expected missing delete, ok=%v err=%v", ok, err)
	}
}

func TestStoreServesPlainFiles(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if err := os.WriteFile(filepath.Join(store.Root(), "dim_city.json"), []byte(`{"dimensions":{}}`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	info, rc, err := store.Get(ctx, "dim_city.json")
	if err != nil {
		t.Fatalf("get plain file: %v", err)
	}
	defer rc.Close()
	if info.Size != int64(len(`{"dimensions":{}}`)) || !strings.HasPrefix(info.ContentType, "application/json") {
		t.Fatalf("unexpected plain info %+v", info)
	}
	list, err := store.List(ctx, "")
	if err != nil || len(list) != 1 || list[0].Key != "dim_city.json" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
}

func TestStoreMissingKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, _, err := store.Get(ctx, "facts.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "facts.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := os.Mkdir(filepath.Join(store.Root(), "dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := store.Head(ctx, "dir"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected directories to be treated as missing, got %v", err)
	}
}

func TestSanitizeKeyErrors(t *testing.T) {
	for _, key := range []string{"", "  ", "../escape", "/abs", "a/../b", "x.meta"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	if k, err := sanitizeKey("a//b"); err != nil || k != "a/b" {
		t.Fatalf("unexpected clean key %q err=%v", k, err)
	}
}

func TestCorruptSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	dataPath := filepath.Join(store.Root(), "k.csv")
	if err := os.WriteFile(dataPath, []byte("a"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.WriteFile(dataPath+metaSuffix, []byte("{"), 0o644); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	if _, err := store.Head(ctx, "k.csv"); err == nil {
		t.Fatalf("expected sidecar decode error")
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list to surface sidecar error")
	}
}

func TestPresignURL(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	u, err := store.PresignURL(ctx, "exports/a.png", core.SignedURLOptions{})
	if err != nil || u != "http://local.blob/exports/a.png" {
		t.Fatalf("unexpected url %q err=%v", u, err)
	}
	if _, err := store.PresignURL(ctx, "exports/a.png", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver")
	}
}
