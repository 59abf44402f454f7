// Package memory implements cache.Cache in process memory on top of a
// bounded LRU. Entries expire lazily: an expired entry is dropped the
// next time it is read.
//
// Keys under a pinned prefix live outside the LRU and are never evicted
// for space. They go away on Delete or once expired, and a periodic sweep
// collects expired pinned entries nobody reads again.
package memory

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/marmos91/wopihost/pkg/cache"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 100_000

// sweepEvery is the number of pinned writes between expiry sweeps.
const sweepEvery = 1024

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is an in-memory cache.Cache.
type Cache struct {
	// mu makes expiry checks and read-modify-write sequences atomic.
	mu     sync.Mutex
	items  *lru.Cache[string, entry]
	now    func() time.Time
	closed bool

	prefixes []string
	pinned   map[string]entry
	writes   int
}

var _ cache.Cache = (*Cache)(nil)

// Option configures a memory Cache.
type Option func(*Cache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithPinnedPrefixes keeps keys starting with any of prefixes out of
// size-based eviction.
func WithPinnedPrefixes(prefixes ...string) Option {
	return func(c *Cache) { c.prefixes = append(c.prefixes, prefixes...) }
}

// New creates a memory cache holding at most maxEntries entries.
func New(maxEntries int, opts ...Option) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	items, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, err
	}
	c := &Cache{items: items, now: time.Now, pinned: make(map[string]entry)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *Cache) isPinned(key string) bool {
	for _, p := range c.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// load returns the live entry for key. Caller holds c.mu.
func (c *Cache) load(key string) (entry, bool) {
	var (
		e  entry
		ok bool
	)
	if c.isPinned(key) {
		e, ok = c.pinned[key]
	} else {
		e, ok = c.items.Get(key)
	}
	if !ok {
		return entry{}, false
	}
	if e.expired(c.now()) {
		c.remove(key)
		return entry{}, false
	}
	return e, true
}

// store saves e under key. Caller holds c.mu.
func (c *Cache) store(key string, e entry) {
	if !c.isPinned(key) {
		c.items.Add(key, e)
		return
	}
	c.pinned[key] = e
	c.writes++
	if c.writes >= sweepEvery {
		c.writes = 0
		c.sweep()
	}
}

// remove drops key. Caller holds c.mu.
func (c *Cache) remove(key string) {
	if c.isPinned(key) {
		delete(c.pinned, key)
		return
	}
	c.items.Remove(key)
}

// sweep drops expired pinned entries. Caller holds c.mu.
func (c *Cache) sweep() {
	now := c.now()
	for k, e := range c.pinned {
		if e.expired(now) {
			delete(c.pinned, k)
		}
	}
}

// Get implements cache.Cache.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, cache.ErrClosed
	}
	e, ok := c.load(key)
	if !ok {
		return nil, cache.ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

// Set implements cache.Cache.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cache.ErrClosed
	}
	c.store(key, entry{value: bytes.Clone(value), expiresAt: c.expiry(ttl)})
	return nil
}

// Delete implements cache.Cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cache.ErrClosed
	}
	c.remove(key)
	return nil
}

// Touch implements cache.Cache.
func (c *Cache) Touch(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cache.ErrClosed
	}
	e, ok := c.load(key)
	if !ok {
		return cache.ErrNotFound
	}
	e.expiresAt = c.expiry(ttl)
	c.store(key, e)
	return nil
}

// CompareAndSwap implements cache.Cache.
func (c *Cache) CompareAndSwap(_ context.Context, key string, old, newValue []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cache.ErrClosed
	}

	cur, ok := c.load(key)
	switch {
	case old == nil && ok:
		return cache.ErrCASMismatch
	case old != nil && (!ok || !bytes.Equal(cur.value, old)):
		return cache.ErrCASMismatch
	}

	if newValue == nil {
		c.remove(key)
		return nil
	}
	c.store(key, entry{value: bytes.Clone(newValue), expiresAt: c.expiry(ttl)})
	return nil
}

// Len returns the number of entries, including not-yet-collected expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len() + len(c.pinned)
}

// Healthcheck implements cache.Cache.
func (c *Cache) Healthcheck(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cache.ErrClosed
	}
	return nil
}

// Close implements cache.Cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items.Purge()
	clear(c.pinned)
	return nil
}
