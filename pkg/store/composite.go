package store

import (
	"context"
	"fmt"
	"io"
)

// Composite routes each ref to the store of its kind.
type Composite struct {
	Items  ResourceStore
	Mounts ResourceStore
}

var (
	_ ResourceStore = (*Composite)(nil)
	_ Canonicalizer = (*Composite)(nil)
)

func (c *Composite) route(op string, ref ResourceRef) (ResourceStore, error) {
	if err := ref.Validate(); err != nil {
		return nil, &StoreError{Code: ErrInvalidArgument, Op: op, Ref: ref.String(), Err: err}
	}
	var s ResourceStore
	switch ref.Kind {
	case KindItem:
		s = c.Items
	case KindMount:
		s = c.Mounts
	}
	if s == nil {
		return nil, &StoreError{
			Code:    ErrNotSupported,
			Op:      op,
			Ref:     ref.String(),
			Message: fmt.Sprintf("no %s store configured", ref.Kind),
		}
	}
	return s, nil
}

// Stat implements ResourceStore.
func (c *Composite) Stat(ctx context.Context, ref ResourceRef) (*FileStat, error) {
	s, err := c.route("stat", ref)
	if err != nil {
		return nil, err
	}
	return s.Stat(ctx, ref)
}

// OpenRead implements ResourceStore.
func (c *Composite) OpenRead(ctx context.Context, ref ResourceRef) (io.ReadCloser, error) {
	s, err := c.route("open_read", ref)
	if err != nil {
		return nil, err
	}
	return s.OpenRead(ctx, ref)
}

// OpenWrite implements ResourceStore.
func (c *Composite) OpenWrite(ctx context.Context, ref ResourceRef) (Writer, error) {
	s, err := c.route("open_write", ref)
	if err != nil {
		return nil, err
	}
	return s.OpenWrite(ctx, ref)
}

// Rename implements ResourceStore.
func (c *Composite) Rename(ctx context.Context, ref ResourceRef, newName string) error {
	s, err := c.route("rename", ref)
	if err != nil {
		return err
	}
	return s.Rename(ctx, ref, newName)
}

// Canonical implements Canonicalizer.
func (c *Composite) Canonical(ctx context.Context, ref ResourceRef) (ResourceRef, error) {
	s, err := c.route("canonical", ref)
	if err != nil {
		return ref, err
	}
	return Canonical(ctx, s, ref)
}

// Healthcheck checks every configured store that supports it.
func (c *Composite) Healthcheck(ctx context.Context) error {
	for name, s := range map[string]ResourceStore{"items": c.Items, "mounts": c.Mounts} {
		hc, ok := s.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.Healthcheck(ctx); err != nil {
			return fmt.Errorf("%s store: %w", name, err)
		}
	}
	return nil
}
