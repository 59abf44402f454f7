// Package cache defines the keyed TTL cache that backs access tokens,
// lock records and the discovery snapshot.
//
// Implementations live in subpackages:
//   - memory: process-local, LRU bounded except for pinned key prefixes
//   - badger: on-disk, survives restarts and can be shared by processes on one host
//
// A Cache is an explicitly constructed handle. Callers own its lifecycle
// and must Close it on shutdown.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or its entry expired.
	ErrNotFound = errors.New("cache: key not found")

	// ErrCASMismatch is returned by CompareAndSwap when the stored value
	// differs from the expected one.
	ErrCASMismatch = errors.New("cache: compare-and-swap mismatch")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache: closed")
)

// Cache is a keyed byte store with per-entry expiry.
//
// An expired entry is indistinguishable from an absent one.
type Cache interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Touch resets the expiry of an existing entry to ttl from now.
	// Returns ErrNotFound if the key is absent.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// CompareAndSwap atomically replaces the value under key with newValue
	// when the current value equals old. A nil old means "must be absent";
	// a nil newValue deletes the entry. Returns ErrCASMismatch otherwise.
	CompareAndSwap(ctx context.Context, key string, old, newValue []byte, ttl time.Duration) error

	// Healthcheck verifies the backend is usable.
	Healthcheck(ctx context.Context) error

	// Close releases resources held by the cache.
	Close() error
}

// Type identifies a cache backend in configuration.
type Type string

const (
	TypeMemory Type = "memory"
	TypeBadger Type = "badger"
)
