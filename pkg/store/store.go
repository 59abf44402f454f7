// Package store defines the capability interface the WOPI engine uses to
// reach document bytes, and the reference type that identifies a document.
//
// Two families implement ResourceStore: the primary item store
// (store/item) and external mount providers (store/mount). Composite
// routes a ref to the right one so the engine sees a single store.
package store

import (
	"context"
	"io"
	"time"
)

// FileStat describes a document as seen by the backing store.
type FileStat struct {
	Name     string
	Size     int64
	Version  string
	MimeType string
	ModTime  time.Time
	Owner    string
}

// Writer receives the new content of a document.
//
// Nothing is visible to readers until Commit returns. Commit yields the
// new version. Abort discards the written bytes; it is safe to call after
// Commit, in which case it does nothing.
type Writer interface {
	io.Writer
	Commit(ctx context.Context) (version string, err error)
	Abort() error
}

// ResourceStore is the backing-store capability consumed by the engine.
//
// All methods fail with *StoreError.
type ResourceStore interface {
	Stat(ctx context.Context, ref ResourceRef) (*FileStat, error)
	OpenRead(ctx context.Context, ref ResourceRef) (io.ReadCloser, error)
	OpenWrite(ctx context.Context, ref ResourceRef) (Writer, error)

	// Rename gives the document a new base name within its current
	// namespace (folder or directory). Fails with ErrAlreadyExists when
	// the name is taken.
	Rename(ctx context.Context, ref ResourceRef, newName string) error
}

// Canonicalizer is implemented by stores whose file ids can outlive a
// path, such as mounts that keep renamed files under their original id.
// Canonical returns ref with the id its document is currently known by.
type Canonicalizer interface {
	Canonical(ctx context.Context, ref ResourceRef) (ResourceRef, error)
}

// Canonical applies s's Canonicalizer, if any, to ref.
func Canonical(ctx context.Context, s ResourceStore, ref ResourceRef) (ResourceRef, error) {
	if c, ok := s.(Canonicalizer); ok {
		return c.Canonical(ctx, ref)
	}
	return ref, nil
}

// HealthChecker is implemented by stores that can report their health.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}
