// Package item is the primary document store: item metadata in a SQL
// database (SQLite or PostgreSQL through gorm) and item bytes in a
// payload directory, one file per item.
package item

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/internal/telemetry"
	"github.com/marmos91/wopihost/pkg/store"
)

// Store implements store.ResourceStore for item refs.
type Store struct {
	db         *gorm.DB
	payloadDir string
}

var _ store.ResourceStore = (*Store)(nil)

// New opens the database, migrates the schema and prepares the payload
// directory.
func New(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid item store configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch cfg.Database.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dialector = sqlite.Open(cfg.Database.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	case DatabaseTypePostgres:
		dialector = postgres.Open(cfg.Database.Postgres.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	switch cfg.Database.Type {
	case DatabaseTypeSQLite:
		// SQLite allows one writer; serialize at the pool instead of
		// surfacing SQLITE_BUSY from concurrent commits.
		sqlDB.SetMaxOpenConns(1)
	case DatabaseTypePostgres:
		sqlDB.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
	}
	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}
	if err := os.MkdirAll(cfg.PayloadDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create payload directory: %w", err)
	}

	logger.Info("Item store opened",
		logger.KeyStoreType, string(cfg.Database.Type), logger.KeyPath, cfg.PayloadDir)
	return &Store{db: db, payloadDir: cfg.PayloadDir}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Healthcheck pings the database.
func (s *Store) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func (s *Store) payloadPath(id string) string {
	return filepath.Join(s.payloadDir, id[:2], id)
}

func (s *Store) load(ctx context.Context, op string, ref store.ResourceRef) (*Item, error) {
	if ref.Kind != store.KindItem || ref.ItemID == "" {
		return nil, &store.StoreError{Code: store.ErrInvalidArgument, Op: op, Ref: ref.String(), Message: "not an item ref"}
	}
	var it Item
	err := s.db.WithContext(ctx).Where("id = ?", ref.ItemID).First(&it).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.NotFound(op, ref)
		}
		return nil, store.IOError(op, ref, err)
	}
	return &it, nil
}

// CreateRequest describes a new item.
type CreateRequest struct {
	FolderID string `json:"folder_id"`
	Name     string `json:"name" validate:"required"`
	Owner    string `json:"owner"`
}

// Create stores a new item with the given content (which may be empty).
func (s *Store) Create(ctx context.Context, req CreateRequest, content io.Reader) (*Item, error) {
	if req.Name == "" || strings.ContainsAny(req.Name, `/\`) {
		return nil, &store.StoreError{Code: store.ErrInvalidArgument, Op: "create", Message: "invalid item name"}
	}
	it := &Item{
		ID:       uuid.New().String(),
		FolderID: req.FolderID,
		Name:     req.Name,
		Owner:    req.Owner,
		MimeType: store.MimeTypeOf(req.Name),
		Revision: 1,
	}
	ref := it.Ref()

	tmp, size, err := s.spool(content)
	if err != nil {
		return nil, store.IOError("create", ref, err)
	}
	it.Size = size

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(it).Error; err != nil {
			return err
		}
		return s.publish(tmp, it.ID)
	})
	if err != nil {
		_ = os.Remove(tmp)
		if isUniqueConstraintError(err) {
			return nil, store.AlreadyExists("create", ref, req.Name)
		}
		return nil, store.IOError("create", ref, err)
	}
	logger.InfoCtx(ctx, "Item created", logger.FileID(it.ID), logger.KeyName, it.Name, logger.KeySize, size)
	return it, nil
}

// Get returns the item with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	return s.load(ctx, "get", store.ItemRef(id))
}

// spool copies r into a temporary payload file.
func (s *Store) spool(r io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(s.payloadDir, ".upload-*")
	if err != nil {
		return "", 0, err
	}
	var n int64
	if r != nil {
		if n, err = io.Copy(f, r); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return "", 0, err
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", 0, err
	}
	return f.Name(), n, nil
}

// publish moves a spooled file into place as the payload of id.
func (s *Store) publish(tmp, id string) error {
	dst := s.payloadPath(id)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// Stat implements store.ResourceStore.
func (s *Store) Stat(ctx context.Context, ref store.ResourceRef) (*store.FileStat, error) {
	it, err := s.load(ctx, "stat", ref)
	if err != nil {
		return nil, err
	}
	return it.stat(), nil
}

// OpenRead implements store.ResourceStore.
func (s *Store) OpenRead(ctx context.Context, ref store.ResourceRef) (io.ReadCloser, error) {
	it, err := s.load(ctx, "open_read", ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.payloadPath(it.ID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.NotFound("open_read", ref)
		}
		return nil, store.IOError("open_read", ref, err)
	}
	return f, nil
}

// OpenWrite implements store.ResourceStore.
func (s *Store) OpenWrite(ctx context.Context, ref store.ResourceRef) (store.Writer, error) {
	it, err := s.load(ctx, "open_write", ref)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(s.payloadDir, ".upload-*")
	if err != nil {
		return nil, store.IOError("open_write", ref, err)
	}
	return &writer{s: s, id: it.ID, ref: ref, f: f}, nil
}

// Rename implements store.ResourceStore. Names are unique per folder.
func (s *Store) Rename(ctx context.Context, ref store.ResourceRef, newName string) error {
	it, err := s.load(ctx, "rename", ref)
	if err != nil {
		return err
	}
	if it.Name == newName {
		return nil
	}
	ctx, span := telemetry.StartStoreSpan(ctx, "item", "rename", telemetry.WopiFileID(it.ID))
	defer span.End()

	err = s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", it.ID).
		Updates(map[string]any{"name": newName, "mime_type": store.MimeTypeOf(newName)}).Error
	if err != nil {
		telemetry.RecordError(ctx, err)
		if isUniqueConstraintError(err) {
			return store.AlreadyExists("rename", ref, newName)
		}
		return store.IOError("rename", ref, err)
	}
	return nil
}

type writer struct {
	s    *Store
	id   string
	ref  store.ResourceRef
	f    *os.File
	n    int64
	done bool
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

// Commit bumps the revision and swaps the payload in one transaction, so
// a failed rename leaves both the old bytes and the old version.
func (w *writer) Commit(ctx context.Context) (string, error) {
	if w.done {
		return "", errors.New("item store: writer already finished")
	}
	w.done = true
	tmp := w.f.Name()
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(tmp)
		return "", store.IOError("commit", w.ref, err)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", store.IOError("commit", w.ref, err)
	}

	var it Item
	err := w.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Item{}).Where("id = ?", w.id).Updates(map[string]any{
			"revision": gorm.Expr("revision + 1"),
			"size":     w.n,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("id = ?", w.id).First(&it).Error; err != nil {
			return err
		}
		return w.s.publish(tmp, w.id)
	})
	if err != nil {
		_ = os.Remove(tmp)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", store.NotFound("commit", w.ref)
		}
		return "", store.IOError("commit", w.ref, err)
	}
	return it.Version(), nil
}

func (w *writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.f.Name())
}
