package mount

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/wopihost/pkg/cache"
	"github.com/marmos91/wopihost/pkg/store/mount/azure"
	"github.com/marmos91/wopihost/pkg/store/mount/local"
	"github.com/marmos91/wopihost/pkg/store/mount/s3"
)

// Provider types accepted in configuration.
const (
	TypeLocal = "local"
	TypeS3    = "s3"
	TypeAzure = "azure"
)

// Config describes one mount.
type Config struct {
	ID   string `mapstructure:"id" validate:"required" yaml:"id"`
	Type string `mapstructure:"type" validate:"required,oneof=local s3 azure" yaml:"type"`

	// Only the section matching Type is read; see ProviderConfig.
	Local local.Config `mapstructure:"local" validate:"-" yaml:"local,omitempty"`
	S3    s3.Config    `mapstructure:"s3" validate:"-" yaml:"s3,omitempty"`
	Azure azure.Config `mapstructure:"azure" validate:"-" yaml:"azure,omitempty"`
}

// ProviderConfig returns the provider section selected by Type, or nil
// for an unknown type.
func (c Config) ProviderConfig() any {
	switch c.Type {
	case TypeLocal:
		return c.Local
	case TypeS3:
		return c.S3
	case TypeAzure:
		return c.Azure
	}
	return nil
}

// NewProvider builds the provider described by cfg.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Type {
	case TypeLocal:
		return local.New(cfg.Local)
	case TypeS3:
		client, err := s3.NewClient(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s3.New(ctx, client, cfg.S3)
	case TypeAzure:
		return azure.New(ctx, cfg.Azure)
	}
	return nil, fmt.Errorf("unknown mount type %q", cfg.Type)
}

// Open builds a Store with every configured mount registered.
func Open(ctx context.Context, cfgs []Config, aliases cache.Cache, aliasTTL time.Duration) (*Store, error) {
	s := NewStore(aliases, aliasTTL)
	for _, cfg := range cfgs {
		p, err := NewProvider(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", cfg.ID, err)
		}
		if err := s.Register(cfg.ID, p); err != nil {
			return nil, err
		}
	}
	return s, nil
}
