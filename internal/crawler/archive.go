package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/JakeFAU/school-rankings-crawler/internal/clock"
)

// BlobArchiver writes raw pages to a BlobStore under
// <prefix>/<YYYY-MM-DD>/<hash of url>.html.
type BlobArchiver struct {
	store  BlobStore
	hasher Hasher
	clock  clock.Clock
	prefix string
}

// NewBlobArchiver builds a BlobArchiver.
func NewBlobArchiver(store BlobStore, hasher Hasher, clk clock.Clock, prefix string) (*BlobArchiver, error) {
	if store == nil || hasher == nil || clk == nil {
		return nil, errors.New("blob archiver requires a store, hasher and clock")
	}
	return &BlobArchiver{store: store, hasher: hasher, clock: clk, prefix: prefix}, nil
}

// Archive stores content and returns the blob URI.
func (a *BlobArchiver) Archive(ctx context.Context, url string, content []byte) (string, error) {
	name, err := a.ObjectName(url)
	if err != nil {
		return "", err
	}
	uri, err := a.store.PutObject(ctx, name, "text/html; charset=utf-8", bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", url, err)
	}
	return uri, nil
}

// ObjectName returns the blob path a page fetched now would be stored at.
func (a *BlobArchiver) ObjectName(url string) (string, error) {
	digest, err := a.hasher.Hash([]byte(url))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	return path.Join(a.prefix, a.clock.Now().UTC().Format("2006-01-02"), digest+".html"), nil
}
