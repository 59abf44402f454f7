// Package content streams document bytes between WOPI requests and the
// backing store.
//
// Reads check X-WOPI-MaxExpectedSize before opening the stream. Writes
// stream into an uncommitted store.Writer in bounded chunks and publish
// it only while holding the resource's lock shard, after the presented
// lock value has been checked again.
package content

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/internal/telemetry"
	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/bufpool"
	"github.com/marmos91/wopihost/pkg/store"
	wopierrors "github.com/marmos91/wopihost/pkg/wopi/errors"
	"github.com/marmos91/wopihost/pkg/wopi/lock"
)

// Byte-counter directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// maxNameLength is the longest base name accepted by RenameFile.
const maxNameLength = 255

// reservedNameChars cannot appear in a renamed file on any backend.
const reservedNameChars = `/\:*?"<>|`

// Metrics receives content byte counts. A nil Metrics is a no-op.
type Metrics interface {
	ObserveContentBytes(direction string, n int64)
}

// Gateway serves the content operations of the WOPI protocol.
type Gateway struct {
	store             store.ResourceStore
	locks             *lock.Registry
	pool              *bufpool.Pool
	postMessageOrigin string
	metrics           Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics counts streamed bytes.
func WithMetrics(m Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a gateway over s, gated by locks.
func New(s store.ResourceStore, locks *lock.Registry, cfg Config, opts ...Option) *Gateway {
	cfg.applyDefaults()
	g := &Gateway{
		store:             s,
		locks:             locks,
		pool:              bufpool.New(int(cfg.ChunkSize)),
		postMessageOrigin: cfg.PostMessageOrigin,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) observe(direction string, n int64) {
	if g.metrics != nil && n > 0 {
		g.metrics.ObserveContentBytes(direction, n)
	}
}

// storeError maps a backing-store failure onto the WOPI taxonomy.
func storeError(op string, err error) error {
	if _, ok := wopierrors.As(err); ok {
		return err
	}
	if store.IsNotFound(err) {
		return wopierrors.NewNotFound("resource", err)
	}
	return wopierrors.NewStoreFailure(op, err)
}

// Version returns the current version of ref.
func (g *Gateway) Version(ctx context.Context, ref store.ResourceRef) (string, error) {
	st, err := g.store.Stat(ctx, ref)
	if err != nil {
		return "", storeError("stat", err)
	}
	return st.Version, nil
}

// Canonical returns ref under the file id its document is known by, so
// that every session on one document shares one lock key.
func (g *Gateway) Canonical(ctx context.Context, ref store.ResourceRef) (store.ResourceRef, error) {
	canon, err := store.Canonical(ctx, g.store, ref)
	if err != nil {
		return ref, storeError("canonical", err)
	}
	return canon, nil
}

// Stat returns the store view of ref.
func (g *Gateway) Stat(ctx context.Context, ref store.ResourceRef) (*store.FileStat, error) {
	st, err := g.store.Stat(ctx, ref)
	if err != nil {
		return nil, storeError("stat", err)
	}
	return st, nil
}

// CheckFileInfo describes ref for user. Write, rename and read-only flags
// come from abilities.
func (g *Gateway) CheckFileInfo(ctx context.Context, ref store.ResourceRef, user *string, abilities ability.Set) (*FileInfo, error) {
	st, err := g.store.Stat(ctx, ref)
	if err != nil {
		return nil, storeError("stat", err)
	}

	info := newFileInfo()
	info.BaseFileName = st.Name
	info.OwnerId = st.Owner
	info.Size = st.Size
	info.Version = st.Version
	info.FileExtension = path.Ext(st.Name)
	if !st.ModTime.IsZero() {
		info.LastModifiedTime = st.ModTime.UTC().Format(time.RFC3339Nano)
	}
	if user == nil {
		info.UserId = AnonymousUser
		info.UserFriendlyName = AnonymousUser
		info.IsAnonymousUser = true
	} else {
		info.UserId = *user
		info.UserFriendlyName = *user
	}
	info.UserCanWrite = abilities.Write
	info.UserCanRename = abilities.Rename
	info.ReadOnly = !abilities.Write
	info.PostMessageOrigin = g.postMessageOrigin
	return info, nil
}

// GetFileContent opens ref for reading and returns its version. When
// maxExpectedSize is set and the file is larger, it fails with
// PreconditionFailed without opening the stream.
func (g *Gateway) GetFileContent(ctx context.Context, ref store.ResourceRef, maxExpectedSize *int64) (io.ReadCloser, string, error) {
	st, err := g.store.Stat(ctx, ref)
	if err != nil {
		return nil, "", storeError("stat", err)
	}
	if maxExpectedSize != nil && st.Size > *maxExpectedSize {
		return nil, "", wopierrors.NewPreconditionFailed(st.Size, *maxExpectedSize)
	}

	rc, err := g.store.OpenRead(ctx, ref)
	if err != nil {
		return nil, "", storeError("open_read", err)
	}
	return &countingReadCloser{ReadCloser: rc, done: func(n int64) { g.observe(DirectionOut, n) }}, st.Version, nil
}

// CopyTo streams src into dst in pooled chunks.
func (g *Gateway) CopyTo(dst io.Writer, src io.Reader) (int64, error) {
	return g.pool.Copy(dst, src)
}

// PutFileContent replaces the content of ref with body and returns the
// new version.
//
// A lock on ref must equal lockValue. An unlocked file accepts any
// lockValue, except that an empty lockValue may only overwrite a
// zero-byte file; a non-empty unlocked file answers with a conflict
// carrying "".
func (g *Gateway) PutFileContent(ctx context.Context, ref store.ResourceRef, lockValue string, body io.Reader) (string, error) {
	key := ref.Key()

	st, err := g.store.Stat(ctx, ref)
	if err != nil {
		return "", storeError("stat", err)
	}
	current, err := g.locks.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if err := checkPut(current, lockValue, st.Size); err != nil {
		logger.DebugCtx(ctx, "PutFile rejected",
			logger.Resource(key), logger.LockHash(lockValue), logger.CurrentLockHash(current))
		return "", err
	}

	w, err := g.store.OpenWrite(ctx, ref)
	if err != nil {
		return "", storeError("open_write", err)
	}
	n, err := g.pool.Copy(w, body)
	if err != nil {
		_ = w.Abort()
		return "", wopierrors.NewStoreFailure("write", err)
	}

	var version string
	err = g.locks.Hold(ctx, key, lockValue, func() error {
		var cerr error
		version, cerr = w.Commit(ctx)
		return cerr
	})
	if err != nil {
		_ = w.Abort()
		if _, ok := wopierrors.As(err); ok {
			return "", err
		}
		return "", storeError("commit", err)
	}

	g.observe(DirectionIn, n)
	telemetry.SetAttributes(ctx, telemetry.WopiBytes(n), telemetry.WopiVersion(version))
	logger.InfoCtx(ctx, "File content updated",
		logger.Resource(key), logger.KeySize, n, logger.KeyVersion, version)
	return version, nil
}

func checkPut(current, presented string, size int64) error {
	switch {
	case current != "" && current != presented:
		return wopierrors.NewLockConflict(current, "File is locked by another session")
	case current == "" && presented == "" && size > 0:
		return wopierrors.NewLockConflict("", "File is not locked")
	}
	return nil
}

// RenameFile renames ref to requestedName, keeping the current
// extension, and returns the full new name. A lock on ref must equal
// lockValue.
func (g *Gateway) RenameFile(ctx context.Context, ref store.ResourceRef, requestedName, lockValue string) (string, error) {
	if err := validateName(requestedName); err != nil {
		return "", err
	}

	st, err := g.store.Stat(ctx, ref)
	if err != nil {
		return "", storeError("stat", err)
	}
	newName := withExtension(requestedName, path.Ext(st.Name))
	if len(newName) > maxNameLength {
		return "", wopierrors.NewInvalidName("Name is too long")
	}

	key := ref.Key()
	err = g.locks.Hold(ctx, key, lockValue, func() error {
		return g.store.Rename(ctx, ref, newName)
	})
	if err != nil {
		if _, ok := wopierrors.As(err); ok {
			return "", err
		}
		switch store.CodeOf(err) {
		case store.ErrAlreadyExists:
			return "", wopierrors.NewNameCollision(newName)
		case store.ErrInvalidArgument:
			return "", wopierrors.NewInvalidName("Name is not allowed by the storage")
		}
		return "", storeError("rename", err)
	}

	logger.InfoCtx(ctx, "File renamed",
		logger.Resource(key), logger.KeyName, st.Name, logger.KeyNewName, newName)
	return newName, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return wopierrors.NewInvalidName("Name is empty")
	}
	if strings.ContainsAny(name, reservedNameChars) {
		return wopierrors.NewInvalidName("Name contains a reserved character")
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return wopierrors.NewInvalidName("Name contains a control character")
	}
	if strings.HasSuffix(name, ".") || strings.HasSuffix(name, " ") {
		return wopierrors.NewInvalidName("Name cannot end with a dot or space")
	}
	return nil
}

// withExtension appends ext unless name already ends with it.
func withExtension(name, ext string) string {
	if ext == "" || strings.EqualFold(path.Ext(name), ext) {
		return name
	}
	return name + ext
}

// countingReadCloser reports the bytes read when closed.
type countingReadCloser struct {
	io.ReadCloser
	n      int64
	done   func(int64)
	closed bool
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	if !c.closed {
		c.closed = true
		c.done(c.n)
	}
	return c.ReadCloser.Close()
}
