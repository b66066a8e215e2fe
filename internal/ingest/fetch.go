package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"kolkostruva/internal/blob"
	"kolkostruva/internal/dimension"
)

// Fetcher opens a named raw document. Implementations wrap
// dimension.ErrDocumentNotFound for missing names.
type Fetcher = dimension.Fetcher

// BlobFetcher reads documents from a blob store, one key per document.
type BlobFetcher struct {
	store  blob.Store
	prefix string
}

// NewBlobFetcher returns a fetcher over store. prefix is prepended to every
// document name.
func NewBlobFetcher(store blob.Store, prefix string) *BlobFetcher {
	return &BlobFetcher{store: store, prefix: prefix}
}

// Fetch opens prefix+name.
func (f *BlobFetcher) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	_, rc, err := f.store.Get(ctx, f.prefix+name)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, dimension.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	return rc, nil
}
