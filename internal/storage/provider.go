// Package storage selects the school store and the blob store that backs the
// raw page archive.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/school-rankings-crawler/internal/crawler"
	"github.com/JakeFAU/school-rankings-crawler/internal/school"
	"github.com/JakeFAU/school-rankings-crawler/internal/storage/gcs"
	"github.com/JakeFAU/school-rankings-crawler/internal/storage/local"
	"github.com/JakeFAU/school-rankings-crawler/internal/storage/memory"
	"github.com/JakeFAU/school-rankings-crawler/internal/storage/postgres"
	"github.com/JakeFAU/school-rankings-crawler/internal/storage/sqlite"
)

// School store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StoreOptions describes the school store.
type StoreOptions struct {
	Driver   string
	DSN      string
	Table    string
	MaxConns int32
}

// NewSchoolStore opens the configured school store.
func NewSchoolStore(ctx context.Context, opts StoreOptions) (school.Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case DriverMemory:
		return memory.NewSchoolStore(), nil
	case "", DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{DSN: opts.DSN, Table: opts.Table})
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return store, nil
	case DriverPostgres:
		store, err := postgres.NewSchoolStore(ctx, postgres.SchoolStoreConfig{
			DSN:      opts.DSN,
			Table:    opts.Table,
			MaxConns: opts.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// Archive providers.
const (
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
)

// ArchiveOptions describes where raw pages go.
type ArchiveOptions struct {
	Provider    string
	BaseDir     string
	Bucket      string
	GCSEndpoint string
}

// NewBlobStore builds the configured blob store. It returns a nil store for
// ProviderNone. The close func is always safe to call.
func NewBlobStore(ctx context.Context, opts ArchiveOptions) (crawler.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", ProviderNone:
		return nil, noop, nil
	case ProviderMemory:
		return memory.NewBlobStore(), noop, nil
	case ProviderLocal:
		store, err := local.New(local.Config{BaseDir: opts.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("local archive: %w", err)
		}
		return store, noop, nil
	case ProviderGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: opts.Bucket, Endpoint: opts.GCSEndpoint})
		if err != nil {
			return nil, noop, fmt.Errorf("gcs archive: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown archive provider %q", opts.Provider)
	}
}
