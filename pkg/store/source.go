// Package store loads AIBDP manifests from their backing storage and keeps
// the current snapshot for the enforcement middleware.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrManifestNotFound is returned when the source holds no manifest.
var ErrManifestNotFound = errors.New("manifest not found")

// Source fetches the raw manifest document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	// Name identifies the source in logs and metrics.
	Name() string
}

// FileSource reads the manifest from the local filesystem.
type FileSource struct {
	path string
}

// NewFileSource returns a source for path, resolved to an absolute path.
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, errors.New("manifest path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	return &FileSource{path: absPath}, nil
}

// Path returns the absolute manifest path.
func (s *FileSource) Path() string {
	return s.path
}

// Name implements Source.
func (s *FileSource) Name() string {
	return "file"
}

// Fetch implements Source.
func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// #nosec G304 -- Manifest path is configured at startup
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", s.path, ErrManifestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return data, nil
}

// StaticSource serves a fixed document. It backs the CLI and tests.
type StaticSource []byte

// Name implements Source.
func (StaticSource) Name() string {
	return "static"
}

// Fetch implements Source.
func (s StaticSource) Fetch(context.Context) ([]byte, error) {
	if s == nil {
		return nil, ErrManifestNotFound
	}
	return append([]byte(nil), s...), nil
}
