// Package storage defines the columnar object-store abstraction that
// partitioned writers, the compactor, and query readers all sit on top of:
// a path-addressed, prefix-listable byte store with local-disk and
// S3 implementations.
package storage

import (
	"context"
	"io"
)

// Kind identifies which concrete Backend implementation is in use.
type Kind string

const (
	// KindLocal is a local filesystem-backed Backend.
	KindLocal Kind = "local"
	// KindS3 is an S3 (or S3-compatible) object-store-backed Backend.
	KindS3 Kind = "s3"
)

// FileStatus describes one object returned by List.
type FileStatus struct {
	Path         string
	SizeBytes    int64
	LastModified int64 // unix seconds
}

// Backend is the storage abstraction every partition path is read from and
// written to. Paths are always "/"-separated and relative to BasePath.
type Backend interface {
	// List enumerates objects whose path starts with pathPrefix, in no
	// particular order. A prefix that matches nothing returns an empty
	// slice, not an error.
	List(ctx context.Context, pathPrefix string) ([]FileStatus, error)

	// Open returns a readable stream for path. Callers must Close it.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// WriteTo returns a writable stream for path. Callers must Close it to
	// commit the write; backends may buffer the full object until Close.
	WriteTo(ctx context.Context, path string) (io.WriteCloser, error)

	// Remove deletes path. Removing a path that doesn't exist is not an
	// error — compaction's delete-sources step relies on this idempotence.
	Remove(ctx context.Context, path string) error

	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)

	// BasePath returns the backend's root, prepended to every path it is
	// given (an empty local dir or an s3:// bucket+prefix URI).
	BasePath() string

	// Kind identifies the concrete backend for logging and metrics labels.
	Kind() Kind
}
