// Package mount exposes external storage providers (local directories,
// S3 buckets, Azure containers) as a store.ResourceStore for mount refs.
//
// Providers work on normalized mount-relative paths and report missing
// or occupied paths with fs.ErrNotExist and fs.ErrExist. The Store maps
// those to store errors and keeps renamed files reachable under their
// original synthetic file id. Two cache records track a rename: the alias
// (file id → current path) and the origin (synthetic id of the current
// path → file id and original path), so that refs created later for the
// new path resolve to the same file id and lock key.
package mount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/internal/telemetry"
	"github.com/marmos91/wopihost/pkg/cache"
	"github.com/marmos91/wopihost/pkg/store"
)

// DefaultAliasTTL bounds how long a renamed file stays reachable under
// its pre-rename file id. It must outlive the tokens issued for it.
const DefaultAliasTTL = 24 * time.Hour

// Cache key prefixes of the rename records.
const (
	AliasKeyPrefix  = "mount-alias:"
	OriginKeyPrefix = "mount-origin:"
)

// origin records which file id a renamed path carries.
type origin struct {
	FileID string `json:"file_id"`
	Path   string `json:"path"`
}

// Provider is one mounted backend.
type Provider interface {
	// Type names the backend kind ("local", "s3", "azure").
	Type() string

	Stat(ctx context.Context, p string) (*store.FileStat, error)
	Open(ctx context.Context, p string) (io.ReadCloser, error)

	// Create returns a writer that replaces the content of p on Commit.
	Create(ctx context.Context, p string) (store.Writer, error)

	// Move renames from to to, failing with fs.ErrExist if to is taken.
	Move(ctx context.Context, from, to string) error
}

// Store routes mount refs to their provider.
type Store struct {
	mu        sync.RWMutex
	providers map[string]Provider

	aliases  cache.Cache
	aliasTTL time.Duration
}

var (
	_ store.ResourceStore = (*Store)(nil)
	_ store.Canonicalizer = (*Store)(nil)
)

// NewStore returns an empty Store. aliases may be nil, in which case
// renamed files are only reachable through refs for their new path.
func NewStore(aliases cache.Cache, aliasTTL time.Duration) *Store {
	if aliasTTL <= 0 {
		aliasTTL = DefaultAliasTTL
	}
	return &Store{
		providers: make(map[string]Provider),
		aliases:   aliases,
		aliasTTL:  aliasTTL,
	}
}

// Register attaches p under mount id.
func (s *Store) Register(id string, p Provider) error {
	if id == "" {
		return errors.New("mount id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[id]; ok {
		return fmt.Errorf("mount %q already registered", id)
	}
	s.providers[id] = p
	logger.Info("Mount registered", logger.Mount(id), logger.KeyStoreType, p.Type())
	return nil
}

// Mounts returns the registered mount ids, sorted.
func (s *Store) Mounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.providers))
	for id := range s.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Provider returns the provider registered under id.
func (s *Store) Provider(id string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	return p, ok
}

func (s *Store) alias(ctx context.Context, fileID string) (string, bool, error) {
	if s.aliases == nil {
		return "", false, nil
	}
	v, err := s.aliases.Get(ctx, AliasKeyPrefix+fileID)
	switch {
	case err == nil:
		return string(v), true, nil
	case errors.Is(err, cache.ErrNotFound):
		return "", false, nil
	}
	return "", false, err
}

func (s *Store) origin(ctx context.Context, mountID, p string) (*origin, error) {
	if s.aliases == nil {
		return nil, nil
	}
	v, err := s.aliases.Get(ctx, OriginKeyPrefix+store.SyntheticFileID(mountID, p))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o origin
	if err := json.Unmarshal(v, &o); err != nil {
		return nil, nil
	}
	return &o, nil
}

func exists(ctx context.Context, p Provider, name string) bool {
	_, err := p.Stat(ctx, name)
	return err == nil
}

// follow returns where fileID now lives when it was renamed away from its
// original path. A rename record stops applying once its origin no longer
// points back at fileID, or once a new file occupies the original path:
// that file owns the id from then on.
func (s *Store) follow(ctx context.Context, p Provider, mountID, fileID string) (string, bool, error) {
	target, ok, err := s.alias(ctx, fileID)
	if err != nil || !ok {
		return "", false, err
	}
	o, err := s.origin(ctx, mountID, target)
	if err != nil {
		return "", false, err
	}
	if o == nil || o.FileID != fileID || o.Path == target {
		return "", false, nil
	}
	if exists(ctx, p, o.Path) {
		s.forget(ctx, mountID, fileID, target)
		return "", false, nil
	}
	return target, true, nil
}

func (s *Store) forget(ctx context.Context, mountID, fileID, target string) {
	_ = s.aliases.Delete(ctx, AliasKeyPrefix+fileID)
	_ = s.aliases.Delete(ctx, OriginKeyPrefix+store.SyntheticFileID(mountID, target))
}

// resolve returns the provider and the current path of ref.
func (s *Store) resolve(ctx context.Context, op string, ref store.ResourceRef) (Provider, string, error) {
	if ref.Kind != store.KindMount {
		return nil, "", &store.StoreError{Code: store.ErrInvalidArgument, Op: op, Ref: ref.String(), Message: "not a mount ref"}
	}
	p, ok := s.Provider(ref.MountID)
	if !ok {
		return nil, "", &store.StoreError{Code: store.ErrNotFound, Op: op, Ref: ref.String(), Message: "unknown mount"}
	}
	target, moved, err := s.follow(ctx, p, ref.MountID, ref.MountFileID)
	if err != nil {
		return nil, "", store.IOError(op, ref, err)
	}
	if moved {
		return p, target, nil
	}
	return p, ref.Path, nil
}

// Canonical returns ref carrying the file id its path is known under. A
// path that a rename moved a file to keeps the file's original id; a path
// a file was renamed away from, and that is still empty, is not found.
func (s *Store) Canonical(ctx context.Context, ref store.ResourceRef) (store.ResourceRef, error) {
	if ref.Kind != store.KindMount {
		return ref, nil
	}
	p, ok := s.Provider(ref.MountID)
	if !ok {
		return ref, &store.StoreError{Code: store.ErrNotFound, Op: "canonical", Ref: ref.String(), Message: "unknown mount"}
	}

	o, err := s.origin(ctx, ref.MountID, ref.Path)
	if err != nil {
		return ref, store.IOError("canonical", ref, err)
	}
	if o != nil && o.FileID != ref.MountFileID {
		if target, moved, err := s.follow(ctx, p, ref.MountID, o.FileID); err == nil && moved && target == ref.Path {
			ref.MountFileID = o.FileID
			return ref, nil
		}
	}

	if _, moved, err := s.follow(ctx, p, ref.MountID, ref.MountFileID); err == nil && moved && !exists(ctx, p, ref.Path) {
		return ref, &store.StoreError{Code: store.ErrNotFound, Op: "canonical", Ref: ref.String(), Message: "file was renamed"}
	}
	return ref, nil
}

func mapError(op string, ref store.ResourceRef, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &store.StoreError{Code: store.ErrNotFound, Op: op, Ref: ref.String(), Err: err}
	case errors.Is(err, fs.ErrExist):
		return &store.StoreError{Code: store.ErrAlreadyExists, Op: op, Ref: ref.String(), Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &store.StoreError{Code: store.ErrPermissionDenied, Op: op, Ref: ref.String(), Err: err}
	}
	return store.IOError(op, ref, err)
}

// Stat implements store.ResourceStore.
func (s *Store) Stat(ctx context.Context, ref store.ResourceRef) (*store.FileStat, error) {
	p, cur, err := s.resolve(ctx, "stat", ref)
	if err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartStoreSpan(ctx, p.Type(), "stat", telemetry.MountID(ref.MountID))
	defer span.End()

	st, err := p.Stat(ctx, cur)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, mapError("stat", ref, err)
	}
	return st, nil
}

// OpenRead implements store.ResourceStore.
func (s *Store) OpenRead(ctx context.Context, ref store.ResourceRef) (io.ReadCloser, error) {
	p, cur, err := s.resolve(ctx, "open_read", ref)
	if err != nil {
		return nil, err
	}
	rc, err := p.Open(ctx, cur)
	if err != nil {
		return nil, mapError("open_read", ref, err)
	}
	return rc, nil
}

// OpenWrite implements store.ResourceStore. The file must already exist.
func (s *Store) OpenWrite(ctx context.Context, ref store.ResourceRef) (store.Writer, error) {
	p, cur, err := s.resolve(ctx, "open_write", ref)
	if err != nil {
		return nil, err
	}
	if _, err := p.Stat(ctx, cur); err != nil {
		return nil, mapError("open_write", ref, err)
	}
	w, err := p.Create(ctx, cur)
	if err != nil {
		return nil, mapError("open_write", ref, err)
	}
	return &mappedWriter{Writer: w, ref: ref}, nil
}

// Rename implements store.ResourceStore.
func (s *Store) Rename(ctx context.Context, ref store.ResourceRef, newName string) error {
	p, cur, err := s.resolve(ctx, "rename", ref)
	if err != nil {
		return err
	}
	target := path.Join(path.Dir(cur), newName)
	if target == cur {
		return nil
	}
	ctx, span := telemetry.StartStoreSpan(ctx, p.Type(), "rename", telemetry.MountID(ref.MountID))
	defer span.End()

	if err := p.Move(ctx, cur, target); err != nil {
		telemetry.RecordError(ctx, err)
		if errors.Is(err, fs.ErrExist) {
			return store.AlreadyExists("rename", ref, newName)
		}
		return mapError("rename", ref, err)
	}
	if err := s.recordRename(ctx, ref, cur, target); err != nil {
		logger.WarnCtx(ctx, "Failed to record rename alias", logger.Mount(ref.MountID), logger.Err(err))
	}
	logger.DebugCtx(ctx, "Mount file renamed",
		logger.Mount(ref.MountID), logger.KeyPath, cur, logger.KeyNewName, newName)
	return nil
}

// recordRename points ref's file id at target. The original path is
// carried over from an earlier rename of the same file.
func (s *Store) recordRename(ctx context.Context, ref store.ResourceRef, cur, target string) error {
	if s.aliases == nil {
		return nil
	}
	orig := ref.Path
	if o, err := s.origin(ctx, ref.MountID, cur); err == nil && o != nil && o.FileID == ref.MountFileID {
		orig = o.Path
	}
	_ = s.aliases.Delete(ctx, OriginKeyPrefix+store.SyntheticFileID(ref.MountID, cur))

	if target == orig {
		return s.aliases.Delete(ctx, AliasKeyPrefix+ref.MountFileID)
	}
	data, err := json.Marshal(origin{FileID: ref.MountFileID, Path: orig})
	if err != nil {
		return err
	}
	if err := s.aliases.Set(ctx, OriginKeyPrefix+store.SyntheticFileID(ref.MountID, target), data, s.aliasTTL); err != nil {
		return err
	}
	return s.aliases.Set(ctx, AliasKeyPrefix+ref.MountFileID, []byte(target), s.aliasTTL)
}

// Healthcheck checks every provider that can report its health.
func (s *Store) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, p := range s.providers {
		if hc, ok := p.(store.HealthChecker); ok {
			if err := hc.Healthcheck(ctx); err != nil {
				return fmt.Errorf("mount %s: %w", id, err)
			}
		}
	}
	return nil
}

type mappedWriter struct {
	store.Writer
	ref store.ResourceRef
}

func (w *mappedWriter) Commit(ctx context.Context) (string, error) {
	v, err := w.Writer.Commit(ctx)
	if err != nil {
		return "", mapError("commit", w.ref, err)
	}
	return v, nil
}
