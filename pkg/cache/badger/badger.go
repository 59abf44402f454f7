// Package badger implements cache.Cache on BadgerDB using native
// per-entry TTLs. Use it when tokens and locks must survive a restart.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/wopihost/pkg/cache"
)

// maxConflictRetries bounds retries of an optimistic transaction that lost
// a race against a concurrent writer.
const maxConflictRetries = 16

// Config configures the badger cache.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// InMemory keeps the database in RAM (tests, ephemeral deployments).
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`

	// GCInterval controls value-log garbage collection. Zero disables it.
	GCInterval time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`
}

// Cache is a BadgerDB-backed cache.Cache.
type Cache struct {
	db     *badgerdb.DB
	stopGC chan struct{}
	gcDone chan struct{}
}

var _ cache.Cache = (*Cache)(nil)

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Cache, error) {
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("badger cache: dir is required")
		}
		opts = badgerdb.DefaultOptions(cfg.Dir)
	}
	// Entries are tiny JSON documents; compression and large caches buy nothing.
	opts = opts.WithLoggingLevel(badgerdb.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(16 << 20).
		WithIndexCacheSize(8 << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Dir, err)
	}

	c := &Cache{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		c.stopGC = make(chan struct{})
		c.gcDone = make(chan struct{})
		go c.runGC(cfg.GCInterval)
	}
	return c, nil
}

func (c *Cache) runGC(interval time.Duration) {
	defer close(c.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is nothing to do.
			for c.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func newEntry(key string, value []byte, ttl time.Duration) *badgerdb.Entry {
	e := badgerdb.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (c *Cache) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}
	}
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := c.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger cache: get: %w", err)
	}
	return out, nil
}

// Set implements cache.Cache.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.update(ctx, func(txn *badgerdb.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return fmt.Errorf("badger cache: set: %w", err)
	}
	return nil
}

// Delete implements cache.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.update(ctx, func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger cache: delete: %w", err)
	}
	return nil
}

// Touch implements cache.Cache by rewriting the entry with a fresh TTL.
func (c *Cache) Touch(ctx context.Context, key string, ttl time.Duration) error {
	err := c.update(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.SetEntry(newEntry(key, val, ttl))
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return cache.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger cache: touch: %w", err)
	}
	return nil
}

// CompareAndSwap implements cache.Cache. Badger's serializable
// transactions detect a concurrent write to key and the retry re-reads it.
func (c *Cache) CompareAndSwap(ctx context.Context, key string, old, newValue []byte, ttl time.Duration) error {
	err := c.update(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badgerdb.ErrKeyNotFound):
			if old != nil {
				return cache.ErrCASMismatch
			}
		case err != nil:
			return err
		default:
			if old == nil {
				return cache.ErrCASMismatch
			}
			cur, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.Equal(cur, old) {
				return cache.ErrCASMismatch
			}
		}

		if newValue == nil {
			return txn.Delete([]byte(key))
		}
		return txn.SetEntry(newEntry(key, newValue, ttl))
	})
	if errors.Is(err, cache.ErrCASMismatch) {
		return cache.ErrCASMismatch
	}
	if err != nil {
		return fmt.Errorf("badger cache: compare-and-swap: %w", err)
	}
	return nil
}

// Healthcheck implements cache.Cache.
func (c *Cache) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.db.IsClosed() {
		return cache.ErrClosed
	}
	return c.db.View(func(*badgerdb.Txn) error { return nil })
}

// Close implements cache.Cache.
func (c *Cache) Close() error {
	if c.stopGC != nil {
		close(c.stopGC)
		<-c.gcDone
	}
	return c.db.Close()
}
