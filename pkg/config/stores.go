package config

import (
	"context"
	"fmt"

	"github.com/marmos91/wopihost/pkg/cache"
	"github.com/marmos91/wopihost/pkg/cache/badger"
	"github.com/marmos91/wopihost/pkg/cache/memory"
	"github.com/marmos91/wopihost/pkg/store"
	"github.com/marmos91/wopihost/pkg/store/item"
	"github.com/marmos91/wopihost/pkg/store/mount"
	"github.com/marmos91/wopihost/pkg/wopi/lock"
)

// pinnedPrefixes are the cache namespaces that must not be evicted for
// space: a dropped lock record would let a second client take the file.
var pinnedPrefixes = []string{lock.KeyPrefix, mount.AliasKeyPrefix, mount.OriginKeyPrefix}

// CreateCache creates the TTL cache described by cfg.
func CreateCache(cfg CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case cache.TypeMemory, "":
		c, err := memory.New(cfg.Memory.MaxEntries, memory.WithPinnedPrefixes(pinnedPrefixes...))
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}
		return c, nil
	case cache.TypeBadger:
		c, err := badger.Open(cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger cache: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %q", cfg.Type)
	}
}

// Stores bundles the opened resource stores.
type Stores struct {
	Items  *item.Store
	Mounts *mount.Store

	// Resources routes each ref to Items or Mounts.
	Resources *store.Composite
}

// Close releases the item database.
func (s *Stores) Close() error {
	if s.Items == nil {
		return nil
	}
	return s.Items.Close()
}

// CreateStores opens the item store and every configured mount. Mount
// rename aliases live in aliases.
func CreateStores(ctx context.Context, cfg *Config, aliases cache.Cache) (*Stores, error) {
	items, err := item.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open item store: %w", err)
	}

	mounts, err := mount.Open(ctx, cfg.Mounts, aliases, cfg.Wopi.MountAliasTTL)
	if err != nil {
		_ = items.Close()
		return nil, fmt.Errorf("failed to open mounts: %w", err)
	}

	return &Stores{
		Items:     items,
		Mounts:    mounts,
		Resources: &store.Composite{Items: items, Mounts: mounts},
	}, nil
}
