package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend implements Backend against the local filesystem, creating
// parent directories on write as needed.
type LocalBackend struct {
	basePath string
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend creates a LocalBackend rooted at basePath, creating it if
// it doesn't already exist.
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}

	return &LocalBackend{basePath: basePath}, nil
}

func (b *LocalBackend) abs(path string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(path))
}

// List walks the directory tree under pathPrefix and returns every regular
// file found, matching object-store listing semantics where "directories"
// are just path segments.
func (b *LocalBackend) List(_ context.Context, pathPrefix string) ([]FileStatus, error) {
	root := b.abs(pathPrefix)

	var out []FileStatus

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(b.basePath, p)
		if err != nil {
			return err
		}

		out = append(out, FileStatus{
			Path:         filepath.ToSlash(rel),
			SizeBytes:    info.Size(),
			LastModified: info.ModTime().Unix(),
		})

		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list %s: %w", pathPrefix, err)
	}

	return out, nil
}

// Open opens path for reading.
func (b *LocalBackend) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(b.abs(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return f, nil
}

// WriteTo creates path (and parent directories) for writing. The returned
// WriteCloser writes to a sibling temp file and renames it into place on a
// clean Close, so a failed or partial write never leaves a truncated file
// visible under the final name.
func (b *LocalBackend) WriteTo(_ context.Context, path string) (io.WriteCloser, error) {
	full := b.abs(path)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dirs for %s: %w", path, err)
	}

	f, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", path, err)
	}

	return &atomicFile{f: f, final: full}, nil
}

// atomicFile writes to a temp file and renames it to final on Close. If the
// underlying file was already closed with an error (a failed Write, or a
// caller-triggered abort), Close removes the temp file instead of renaming
// it, so no partial file is ever visible under final.
type atomicFile struct {
	f      *os.File
	final  string
	failed bool
}

func (a *atomicFile) Write(p []byte) (int, error) {
	n, err := a.f.Write(p)
	if err != nil {
		a.failed = true
	}

	return n, err
}

func (a *atomicFile) Close() error {
	if a.failed {
		_ = a.f.Close()
		_ = os.Remove(a.f.Name())

		return fmt.Errorf("write %s: aborted after partial write", a.final)
	}

	if err := a.f.Close(); err != nil {
		_ = os.Remove(a.f.Name())

		return fmt.Errorf("close temp file for %s: %w", a.final, err)
	}

	if err := os.Rename(a.f.Name(), a.final); err != nil {
		_ = os.Remove(a.f.Name())

		return fmt.Errorf("rename into place %s: %w", a.final, err)
	}

	return nil
}

// Remove deletes path, treating an absent file as success.
func (b *LocalBackend) Remove(_ context.Context, path string) error {
	if err := os.Remove(b.abs(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}

// Exists reports whether path is present.
func (b *LocalBackend) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(b.abs(path))
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("stat %s: %w", path, err)
}

// BasePath returns the local root directory.
func (b *LocalBackend) BasePath() string {
	return b.basePath
}

// Kind reports KindLocal.
func (b *LocalBackend) Kind() Kind {
	return KindLocal
}

// normalizeKey strips a leading "file://" scheme some callers pass through
// uniformly with S3 URIs.
func normalizeKey(path string) string {
	return strings.TrimPrefix(path, "file://")
}
