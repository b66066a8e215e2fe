package dimension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"kolkostruva/internal/ident"
)

var (
	// ErrNotLoaded is returned by lookups made before Load completed.
	ErrNotLoaded = errors.New("dimension store not loaded")
	// ErrDocumentNotFound is wrapped by Fetcher implementations when the
	// named document does not exist.
	ErrDocumentNotFound = errors.New("document not found")
)

// LoadError reports which dimension document failed to load.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load dimension %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Fetcher opens a named raw document.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (io.ReadCloser, error)
}

// Store serves id lookups over the five dimension tables. Tables are
// published all at once; until then every lookup fails with ErrNotLoaded.
type Store struct {
	sources Sources
	loadMu  sync.Mutex
	tables  atomic.Pointer[Tables]
}

// NewStore returns an unloaded store reading the given documents. Empty
// names fall back to DefaultSources.
func NewStore(sources Sources) *Store {
	return &Store{sources: sources.withDefaults()}
}

// FromTables returns a store that is already loaded with t.
func FromTables(t Tables) *Store {
	s := NewStore(Sources{})
	cp := t
	s.tables.Store(&cp)
	return s
}

// Sources returns the configured document names.
func (s *Store) Sources() Sources { return s.sources }

// Loaded reports whether the tables are available.
func (s *Store) Loaded() bool { return s.tables.Load() != nil }

// Load fetches all five documents concurrently and publishes them only if
// every one decoded. Calling Load on a loaded store is a no-op.
func (s *Store) Load(ctx context.Context, f Fetcher) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.Loaded() {
		return nil
	}
	var t Tables
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		t.Categories, err = fetchTable[Category](gctx, f, s.sources.Category)
		return err
	})
	g.Go(func() (err error) {
		t.Cities, err = fetchTable[City](gctx, f, s.sources.City)
		return err
	})
	g.Go(func() (err error) {
		t.TradeChains, err = fetchTable[TradeChain](gctx, f, s.sources.TradeChain)
		return err
	})
	g.Go(func() (err error) {
		t.TradeObjects, err = fetchTable[TradeObject](gctx, f, s.sources.TradeObject)
		return err
	})
	g.Go(func() (err error) {
		t.Products, err = fetchTable[Product](gctx, f, s.sources.Product)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	s.tables.Store(&t)
	return nil
}

func fetchTable[T any](ctx context.Context, f Fetcher, name string) (map[int]T, error) {
	rc, err := f.Fetch(ctx, name)
	if err != nil {
		return nil, &LoadError{Source: name, Err: err}
	}
	defer func() { _ = rc.Close() }()
	table, err := DecodeTable[T](rc)
	if err != nil {
		return nil, &LoadError{Source: name, Err: err}
	}
	return table, nil
}

type document[T any] struct {
	Version    string        `json:"version"`
	Dimensions *map[string]T `json:"dimensions"`
	NextID     int           `json:"next_id"`
}

// DecodeTable reads one dimension document. Keys are string-encoded ids in
// canonical decimal form; any other key ("x", "01", " 1") is skipped, so no two
// keys can claim the same id.
func DecodeTable[T any](r io.Reader) (map[int]T, error) {
	var doc document[T]
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode dimension document: %w", err)
	}
	if doc.Dimensions == nil {
		return nil, errors.New("dimension document has no dimensions object")
	}
	out := make(map[int]T, len(*doc.Dimensions))
	for key, v := range *doc.Dimensions {
		id, ok := ident.Parse(key).Int()
		if !ok || strconv.Itoa(id) != key {
			continue
		}
		out[id] = v
	}
	return out, nil
}

func (s *Store) loaded() (*Tables, error) {
	t := s.tables.Load()
	if t == nil {
		return nil, ErrNotLoaded
	}
	return t, nil
}

func lookup[T any](table map[int]T, id ident.ID) (T, bool) {
	n, ok := id.Int()
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := table[n]
	return v, ok
}

// Category looks up a category. A miss returns ok=false and no error.
func (s *Store) Category(id ident.ID) (Category, bool, error) {
	t, err := s.loaded()
	if err != nil {
		return Category{}, false, err
	}
	v, ok := lookup(t.Categories, id)
	return v, ok, nil
}

// City looks up a city.
func (s *Store) City(id ident.ID) (City, bool, error) {
	t, err := s.loaded()
	if err != nil {
		return City{}, false, err
	}
	v, ok := lookup(t.Cities, id)
	return v, ok, nil
}

// TradeChain looks up a trade chain.
func (s *Store) TradeChain(id ident.ID) (TradeChain, bool, error) {
	t, err := s.loaded()
	if err != nil {
		return TradeChain{}, false, err
	}
	v, ok := lookup(t.TradeChains, id)
	return v, ok, nil
}

// TradeObject looks up a trade object.
func (s *Store) TradeObject(id ident.ID) (TradeObject, bool, error) {
	t, err := s.loaded()
	if err != nil {
		return TradeObject{}, false, err
	}
	v, ok := lookup(t.TradeObjects, id)
	return v, ok, nil
}

// Product looks up a product.
func (s *Store) Product(id ident.ID) (Product, bool, error) {
	t, err := s.loaded()
	if err != nil {
		return Product{}, false, err
	}
	v, ok := lookup(t.Products, id)
	return v, ok, nil
}

// Counts returns the number of entries in each table.
func (s *Store) Counts() (Counts, error) {
	t, err := s.loaded()
	if err != nil {
		return Counts{}, err
	}
	return Counts{
		Categories:   len(t.Categories),
		Cities:       len(t.Cities),
		TradeChains:  len(t.TradeChains),
		TradeObjects: len(t.TradeObjects),
		Products:     len(t.Products),
	}, nil
}

// CategoryNomenclature maps each category name to itself; the category
// table already stores the display value in Name.
func (s *Store) CategoryNomenclature() (map[string]string, error) {
	t, err := s.loaded()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(t.Categories))
	for _, c := range t.Categories {
		out[c.Name] = c.Name
	}
	return out, nil
}

// CityNomenclature maps EKATTE code to city name, falling back to the code.
func (s *Store) CityNomenclature() (map[string]string, error) {
	t, err := s.loaded()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(t.Cities))
	for _, c := range t.Cities {
		name := c.Name
		if name == "" {
			name = c.EkatteCode
		}
		out[c.EkatteCode] = name
	}
	return out, nil
}

// ChainNomenclature maps chain id (as text) to chain name, falling back to
// "Chain <id>".
func (s *Store) ChainNomenclature() (map[string]string, error) {
	t, err := s.loaded()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(t.TradeChains))
	for id, c := range t.TradeChains {
		key := strconv.Itoa(id)
		if c.Name == "" {
			out[key] = "Chain " + key
			continue
		}
		out[key] = c.Name
	}
	return out, nil
}
