// Package session owns the loaded price dataset and the currently selected
// date. Reports are computed by package report over immutable snapshots; the
// session only decides which snapshot a query sees.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"kolkostruva/internal/dimension"
	"kolkostruva/internal/ident"
	"kolkostruva/internal/ingest"
	"kolkostruva/internal/pricing"
	"kolkostruva/internal/report"
)

var (
	// ErrNoData reports a load that succeeded but produced no dated rows.
	ErrNoData = errors.New("no price data available")
	// ErrNotLoaded is returned by queries made before a successful Load.
	ErrNotLoaded = errors.New("session not loaded")
)

// Stats describes the last successful load.
type Stats struct {
	Layout     ingest.Layout    `json:"layout"`
	Rows       int              `json:"rows"`
	Skipped    int              `json:"skipped"`
	Enriched   int              `json:"enriched"`
	Dates      int              `json:"dates"`
	Dimensions dimension.Counts `json:"dimensions"`
	LoadedAt   time.Time        `json:"loaded_at"`
	Duration   time.Duration    `json:"duration_ns"`
}

type state struct {
	generation uint64
	all        []pricing.Enriched
	dates      []string
	stats      Stats
}

type view struct {
	state *state
	date  string
	rows  []pricing.Enriched
}

type cacheKey struct {
	generation uint64
	date       string
	report     string
	city       string
	category   string
}

// Session is safe for concurrent use.
type Session struct {
	loader ingest.Loader
	opts   options
	cache  *lru.Cache[cacheKey, any]

	loadMu     sync.Mutex
	generation uint64
	view       atomic.Pointer[view]
}

// New returns an unloaded session reading through loader.
func New(loader ingest.Loader, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Session{loader: loader, opts: o}
	if o.cacheSize > 0 {
		// lru.New only fails for a non-positive size.
		s.cache, _ = lru.New[cacheKey, any](o.cacheSize)
	}
	return s
}

// Load reads and enriches the dataset, then selects the newest date. A
// failed load leaves any previously loaded data in place. Loading again
// replaces the dataset and keeps the selected date when it still exists.
func (s *Session) Load(ctx context.Context) (err error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	start := s.opts.clock.Now()
	defer func() {
		s.opts.metrics.Observe(ctx, "session.load", err == nil, s.opts.clock.Now().Sub(start))
	}()

	ds, err := s.loader.Load(ctx)
	if err != nil {
		s.opts.logger.Error("dataset load failed", "error", err)
		return fmt.Errorf("load dataset: %w", err)
	}
	if ds.Skipped > 0 {
		s.opts.logger.Debug("malformed rows skipped", "layout", ds.Layout, "skipped", ds.Skipped)
	}
	rows, err := pricing.EnrichAll(ds.Facts, ds.Dims)
	if err != nil {
		s.opts.logger.Error("dataset enrichment failed", "error", err)
		return err
	}
	dates := report.AvailableDates(rows)
	if len(dates) == 0 {
		s.opts.logger.Warn("dataset has no dated rows", "layout", ds.Layout, "rows", ds.Rows)
		return ErrNoData
	}
	counts, err := ds.Dims.Counts()
	if err != nil {
		return err
	}

	s.generation++
	st := &state{
		generation: s.generation,
		all:        rows,
		dates:      dates,
		stats: Stats{
			Layout:     ds.Layout,
			Rows:       ds.Rows,
			Skipped:    ds.Skipped,
			Enriched:   len(rows),
			Dates:      len(dates),
			Dimensions: counts,
			LoadedAt:   s.opts.clock.Now(),
		},
	}
	st.stats.Duration = st.stats.LoadedAt.Sub(start)

	selected := dates[0]
	if prev := s.view.Load(); prev != nil && slices.Contains(dates, prev.date) {
		selected = prev.date
	}
	s.view.Store(newView(st, selected))
	if s.cache != nil {
		s.cache.Purge()
	}
	if lo, ok := s.opts.metrics.(LoadObserver); ok {
		lo.ObserveLoad(st.stats)
	}
	s.opts.logger.Info("dataset loaded",
		"layout", ds.Layout,
		"rows", ds.Rows,
		"skipped", ds.Skipped,
		"enriched", len(rows),
		"dates", len(dates),
		"selected", selected,
	)
	return nil
}

func newView(st *state, date string) *view {
	return &view{state: st, date: date, rows: report.FilterByDate(st.all, date)}
}

func (s *Session) current() (*view, error) {
	v := s.view.Load()
	if v == nil {
		return nil, ErrNotLoaded
	}
	return v, nil
}

// Dates returns the available dates, newest first.
func (s *Session) Dates() ([]string, error) {
	v, err := s.current()
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.state.dates), nil
}

// SelectedDate returns the date the reports currently cover.
func (s *Session) SelectedDate() (string, error) {
	v, err := s.current()
	if err != nil {
		return "", err
	}
	return v.date, nil
}

// SelectDate switches the reports to date. Any date is accepted; one without
// rows yields empty reports.
func (s *Session) SelectDate(date string) error {
	for {
		v, err := s.current()
		if err != nil {
			return err
		}
		if v.date == date {
			return nil
		}
		if s.view.CompareAndSwap(v, newView(v.state, date)) {
			s.opts.logger.Debug("date selected", "date", date)
			return nil
		}
	}
}

// All returns every enriched row regardless of date.
func (s *Session) All() ([]pricing.Enriched, error) {
	v, err := s.current()
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.state.all), nil
}

// View returns the rows of the selected date.
func (s *Session) View() ([]pricing.Enriched, error) {
	v, err := s.current()
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.rows), nil
}

// Stats describes the last successful load.
func (s *Session) Stats() (Stats, error) {
	v, err := s.current()
	if err != nil {
		return Stats{}, err
	}
	return v.state.stats, nil
}

// Cities lists the cities present on the selected date.
func (s *Session) Cities() ([]report.CityOption, error) {
	return rowsOnly(memo(s, cacheKey{report: "cities"}, report.Cities))
}

// Categories lists the categories present on the selected date.
func (s *Session) Categories() ([]report.CategoryOption, error) {
	return rowsOnly(memo(s, cacheKey{report: "categories"}, report.Categories))
}

// PriceByCategory runs the category average report for a city.
func (s *Session) PriceByCategory(cityCode string) ([]report.CategoryAverage, error) {
	return rowsOnly(s.PriceByCategoryAt(cityCode))
}

// PriceByCategoryAt is PriceByCategory plus the date of the view it ran on.
func (s *Session) PriceByCategoryAt(cityCode string) (string, []report.CategoryAverage, error) {
	return memo(s, cacheKey{report: "price_by_category", city: cityCode}, func(rows []pricing.Enriched) []report.CategoryAverage {
		return report.PriceByCategory(rows, cityCode)
	})
}

// ProductsInCityCategory lists one category's prices in one city.
func (s *Session) ProductsInCityCategory(cityCode string, categoryID ident.ID) ([]report.Priced, error) {
	return rowsOnly(s.ProductsInCityCategoryAt(cityCode, categoryID))
}

// ProductsInCityCategoryAt is ProductsInCityCategory plus the view's date.
func (s *Session) ProductsInCityCategoryAt(cityCode string, categoryID ident.ID) (string, []report.Priced, error) {
	key := cacheKey{report: "products", city: cityCode, category: categoryID.String()}
	return memo(s, key, func(rows []pricing.Enriched) []report.Priced {
		return report.ProductsInCityCategory(rows, cityCode, categoryID)
	})
}

// LocationsForCategory lists one category's prices across all cities.
func (s *Session) LocationsForCategory(categoryID ident.ID) ([]report.Priced, error) {
	return rowsOnly(s.LocationsForCategoryAt(categoryID))
}

// LocationsForCategoryAt is LocationsForCategory plus the view's date.
func (s *Session) LocationsForCategoryAt(categoryID ident.ID) (string, []report.Priced, error) {
	key := cacheKey{report: "locations", category: categoryID.String()}
	return memo(s, key, func(rows []pricing.Enriched) []report.Priced {
		return report.LocationsForCategory(rows, categoryID)
	})
}

func rowsOnly[T any](_ string, rows []T, err error) ([]T, error) { return rows, err }

// memo runs fn over the selected view, memoizing per (dataset, date, query).
// It returns the date of the view fn ran on; callers always receive their own
// copy of the slice.
func memo[T any](s *Session, key cacheKey, fn func([]pricing.Enriched) []T) (string, []T, error) {
	v, err := s.current()
	if err != nil {
		return "", nil, err
	}
	key.generation = v.state.generation
	key.date = v.date
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return v.date, slices.Clone(cached.([]T)), nil
		}
	}
	out := fn(v.rows)
	if s.cache != nil {
		s.cache.Add(key, out)
	}
	return v.date, slices.Clone(out), nil
}
