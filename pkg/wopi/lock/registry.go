// Package lock implements the WOPI per-resource lock state machine.
//
// Each resource key is either unlocked or locked with an opaque,
// client-chosen value. The state lives in a cache.Cache entry whose TTL is
// the lock lease, so an expired lock is simply absent. Mutations on one key
// are serialized by a sharded mutex and written with compare-and-swap, so
// concurrent callers always observe a single winner.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/pkg/cache"
	wopierrors "github.com/marmos91/wopihost/pkg/wopi/errors"
)

// KeyPrefix namespaces lock records in the cache.
const KeyPrefix = "lock:"

const (
	shardCount     = 256
	maxCASAttempts = 8
)

// Operation names, used in logs and metrics.
const (
	OpGetLock         = "GET_LOCK"
	OpLock            = "LOCK"
	OpRefreshLock     = "REFRESH_LOCK"
	OpUnlock          = "UNLOCK"
	OpUnlockAndRelock = "UNLOCK_AND_RELOCK"
)

// Record is the persisted state of a locked resource.
type Record struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Registry is the lock state machine.
type Registry struct {
	cache   cache.Cache
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics
	shards  [shardCount]sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a lock registry over c.
func NewRegistry(c cache.Cache, cfg Config, opts ...Option) *Registry {
	cfg.applyDefaults()
	r := &Registry{cache: c, ttl: cfg.TTL, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the configured lease.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

func (r *Registry) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &r.shards[h.Sum32()%shardCount]
}

// load returns the raw cache bytes and the live record for key. A missing
// or expired record yields (nil, nil).
func (r *Registry) load(ctx context.Context, key string) ([]byte, *Record, error) {
	raw, err := r.cache.Get(ctx, KeyPrefix+key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock: load %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A corrupt entry cannot prove ownership; treat it as unlocked but
		// keep raw so the next CAS replaces it.
		logger.Warn("lock: discarding undecodable record", logger.Resource(key), logger.Err(err))
		return raw, nil, nil
	}
	if !rec.ExpiresAt.IsZero() && !r.now().Before(rec.ExpiresAt) {
		return raw, nil, nil
	}
	return raw, &rec, nil
}

// mutate applies fn to the current state of key and writes the result.
// fn returns the next record, or nil to unlock.
func (r *Registry) mutate(ctx context.Context, key string, fn func(cur *Record) (*Record, error)) error {
	mu := r.shard(key)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		raw, cur, err := r.load(ctx, key)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}

		var newRaw []byte
		if next != nil {
			next.Key = key
			next.ExpiresAt = r.now().Add(r.ttl)
			if newRaw, err = json.Marshal(next); err != nil {
				return fmt.Errorf("lock: encode: %w", err)
			}
		} else if raw == nil {
			return nil
		}

		err = r.cache.CompareAndSwap(ctx, KeyPrefix+key, raw, newRaw, r.ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, cache.ErrCASMismatch) {
			return fmt.Errorf("lock: store %s: %w", key, err)
		}
		// Another process sharing the cache won the race; re-read.
		r.metrics.retry()
	}
	return fmt.Errorf("lock: %s: too much contention", key)
}

func currentValue(rec *Record) string {
	if rec == nil {
		return ""
	}
	return rec.Value
}

func checkValue(v string) error {
	if v == "" {
		return wopierrors.NewBadRequest("lock value is required")
	}
	if len(v) > MaxValueLength {
		return wopierrors.NewBadRequest(fmt.Sprintf("lock value longer than %d bytes", MaxValueLength))
	}
	return nil
}

func isConflict(err error) bool {
	return wopierrors.IsCode(err, wopierrors.ErrLockConflict)
}

func (r *Registry) finish(ctx context.Context, op, key string, err error, attrs ...any) error {
	r.metrics.observe(op, err)
	args := append([]any{logger.KeyOperation, op, logger.Resource(key)}, attrs...)
	if current, ok := wopierrors.CurrentLock(err); ok {
		logger.DebugCtx(ctx, "lock conflict", append(args, logger.CurrentLockHash(current))...)
	} else if err != nil {
		logger.WarnCtx(ctx, "lock operation failed", append(args, logger.Err(err))...)
	} else {
		logger.DebugCtx(ctx, "lock operation", args...)
	}
	return err
}

// Get returns the current lock value of key, or "" when unlocked.
func (r *Registry) Get(ctx context.Context, key string) (string, error) {
	_, rec, err := r.load(ctx, key)
	if err != nil {
		return "", r.finish(ctx, OpGetLock, key, err)
	}
	r.metrics.observe(OpGetLock, nil)
	return currentValue(rec), nil
}

// Lock acquires key with value v. Re-locking with the same value extends
// the lease. A different holder yields a conflict carrying its value.
func (r *Registry) Lock(ctx context.Context, key, v string) error {
	if err := checkValue(v); err != nil {
		return err
	}
	err := r.mutate(ctx, key, func(cur *Record) (*Record, error) {
		if cur != nil && cur.Value != v {
			return nil, wopierrors.NewLockConflict(cur.Value, "locked by another session")
		}
		return &Record{Value: v}, nil
	})
	return r.finish(ctx, OpLock, key, err, logger.LockHash(v))
}

// Refresh extends the lease of key, which must be locked with v.
func (r *Registry) Refresh(ctx context.Context, key, v string) error {
	if err := checkValue(v); err != nil {
		return err
	}
	err := r.mutate(ctx, key, func(cur *Record) (*Record, error) {
		if cur == nil {
			return nil, wopierrors.NewLockConflict("", "file is not locked")
		}
		if cur.Value != v {
			return nil, wopierrors.NewLockConflict(cur.Value, "lock mismatch")
		}
		return &Record{Value: v}, nil
	})
	return r.finish(ctx, OpRefreshLock, key, err, logger.LockHash(v))
}

// Unlock releases key, which must be locked with v.
func (r *Registry) Unlock(ctx context.Context, key, v string) error {
	if err := checkValue(v); err != nil {
		return err
	}
	err := r.mutate(ctx, key, func(cur *Record) (*Record, error) {
		if cur == nil {
			return nil, wopierrors.NewLockConflict("", "file is not locked")
		}
		if cur.Value != v {
			return nil, wopierrors.NewLockConflict(cur.Value, "lock mismatch")
		}
		return nil, nil
	})
	return r.finish(ctx, OpUnlock, key, err, logger.LockHash(v))
}

// UnlockAndRelock atomically replaces lock oldValue with newValue and
// grants a fresh lease.
func (r *Registry) UnlockAndRelock(ctx context.Context, key, oldValue, newValue string) error {
	if err := checkValue(oldValue); err != nil {
		return err
	}
	if err := checkValue(newValue); err != nil {
		return err
	}
	err := r.mutate(ctx, key, func(cur *Record) (*Record, error) {
		if cur == nil {
			return nil, wopierrors.NewLockConflict("", "file is not locked")
		}
		if cur.Value != oldValue {
			return nil, wopierrors.NewLockConflict(cur.Value, "lock mismatch")
		}
		return &Record{Value: newValue}, nil
	})
	return r.finish(ctx, OpUnlockAndRelock, key, err, logger.OldLockHash(oldValue), logger.LockHash(newValue))
}

// Validate checks that a write presenting v may proceed: either key is
// unlocked, or it is locked with exactly v.
func (r *Registry) Validate(ctx context.Context, key, v string) error {
	_, rec, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	if rec != nil && rec.Value != v {
		return wopierrors.NewLockConflict(rec.Value, "lock mismatch")
	}
	return nil
}

// Hold runs fn while holding the key's shard mutex, after checking v
// against the current lock. fn must be short: content writes stream
// first and only commit inside Hold, so a LOCK from another session
// cannot slip between the check and the commit.
func (r *Registry) Hold(ctx context.Context, key, v string, fn func() error) error {
	mu := r.shard(key)
	mu.Lock()
	defer mu.Unlock()

	_, rec, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	if rec != nil && rec.Value != v {
		return wopierrors.NewLockConflict(rec.Value, "lock mismatch")
	}
	return fn()
}
