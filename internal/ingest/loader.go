// Package ingest turns raw documents into price facts plus a loaded dimension
// store. Each supported file layout is an adapter producing the same Dataset.
package ingest

import (
	"context"
	"fmt"
	"io"

	"kolkostruva/internal/dimension"
	"kolkostruva/internal/pricing"
	"kolkostruva/internal/tabular"
)

// Layout names a fact file layout.
type Layout string

const (
	// LayoutStar is a fact table of ids plus five dimension documents.
	LayoutStar Layout = "star"
	// LayoutFlat is one denormalized table with Bulgarian column headers.
	LayoutFlat Layout = "flat"
)

// Dataset is the result of a load.
type Dataset struct {
	Layout Layout
	Facts  []pricing.Fact
	Dims   *dimension.Store
	// Rows counts data rows read from the fact document.
	Rows int
	// Skipped counts rows dropped as malformed.
	Skipped int
}

// Loader produces a Dataset.
type Loader interface {
	Load(ctx context.Context) (Dataset, error)
}

// Options configures New.
type Options struct {
	Layout Layout
	// Facts is the fact document name; defaults depend on the layout.
	Facts     string
	Delimiter rune
	// Sources overrides dimension document names for the star layout.
	Sources dimension.Sources
	// Nomenclatures overrides lookup document names for the flat layout.
	Nomenclatures Nomenclatures
}

// New returns the loader for opts.Layout; the empty layout means star.
func New(f Fetcher, opts Options) (Loader, error) {
	switch opts.Layout {
	case "", LayoutStar:
		return NewStarLoader(f, opts), nil
	case LayoutFlat:
		return NewFlatLoader(f, opts), nil
	default:
		return nil, fmt.Errorf("unknown layout %q", opts.Layout)
	}
}

func readTable(r io.Reader, delimiter rune, intColumns []string) (tabular.Result, error) {
	res, err := tabular.ParseReader(r, tabular.Options{Delimiter: delimiter, IntColumns: intColumns})
	if err != nil {
		return tabular.Result{}, err
	}
	if len(res.Header) == 1 && res.Header[0] == "" {
		return tabular.Result{}, fmt.Errorf("document has no header")
	}
	return res, nil
}
