// Package filecheckpoint persists the crawl resume point as a JSON file.
package filecheckpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/crawler"
)

// Store reads and writes a single checkpoint file.
type Store struct {
	path   string
	logger *zap.Logger
}

// New returns a Store for path. The parent directory is created on first save.
func New(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint.path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger.Named("checkpoint")}, nil
}

// Path returns the checkpoint file location.
func (s *Store) Path() string { return s.path }

// Load returns the saved checkpoint, or nil when no file exists.
func (s *Store) Load(_ context.Context) (*crawler.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp crawler.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.path, err)
	}
	if strings.TrimSpace(cp.Cursor) == "" {
		return nil, fmt.Errorf("checkpoint %s has no cursor", s.path)
	}
	s.logger.Info("checkpoint loaded",
		zap.String("cursor", cp.Cursor),
		zap.Int("page", cp.Page),
		zap.Time("saved_at", cp.SavedAt),
	)
	return &cp, nil
}

// Save replaces the checkpoint file atomically.
func (s *Store) Save(_ context.Context, cp crawler.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("move checkpoint into place: %w", err)
	}
	s.logger.Debug("checkpoint saved", zap.String("cursor", cp.Cursor), zap.Int("page", cp.Page))
	return nil
}

// Remove deletes the checkpoint file. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
