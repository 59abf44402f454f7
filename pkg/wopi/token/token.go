// Package token issues and resolves WOPI access tokens.
//
// A token is an opaque random string. The AccessContext it stands for is
// stored in the TTL cache under the token and is never modified; it
// disappears on expiry or revocation.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/cache"
	"github.com/marmos91/wopihost/pkg/store"
	wopierrors "github.com/marmos91/wopihost/pkg/wopi/errors"
)

const (
	// DefaultTTL is the default access token lifetime.
	DefaultTTL = 10 * time.Hour

	keyPrefix   = "token:"
	tokenBytes  = 32
	tokenLength = 43 // base64url, no padding, of 32 bytes
)

// AccessContext is what a token grants: one resource, one user, a window.
type AccessContext struct {
	Resource  store.ResourceRef `json:"resource"`
	User      *string           `json:"user,omitempty"`
	IssuedAt  time.Time         `json:"issued_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// UserName returns the user, or "" for the anonymous user.
func (a *AccessContext) UserName() string {
	if a.User == nil {
		return ""
	}
	return *a.User
}

// Config configures the token service.
type Config struct {
	// TTL is the access token lifetime. Default: 10h
	TTL time.Duration `mapstructure:"token_ttl" validate:"omitempty,min=1m" yaml:"token_ttl"`
}

// Service issues and resolves tokens.
type Service struct {
	cache  cache.Cache
	ttl    time.Duration
	now    func() time.Time
	issued prometheus.Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIssuedCounter counts successfully issued tokens.
func WithIssuedCounter(c prometheus.Counter) Option {
	return func(s *Service) { s.issued = c }
}

// NewService creates a token service over c.
func NewService(c cache.Cache, cfg Config, opts ...Option) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	s := &Service{cache: c, ttl: cfg.TTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Issue creates a token for (ref, user) if oracle grants retrieve.
// It returns the token and its expiry in Unix milliseconds.
func (s *Service) Issue(ctx context.Context, ref store.ResourceRef, user *string, oracle ability.Oracle) (string, int64, error) {
	if err := ref.Validate(); err != nil {
		return "", 0, wopierrors.NewBadRequest(err.Error())
	}

	abilities, err := oracle.Abilities(ctx, ref, user)
	if err != nil {
		return "", 0, fmt.Errorf("token: ability check: %w", err)
	}
	if !abilities.Has(ability.Retrieve) {
		logger.InfoCtx(ctx, "token denied", logger.Resource(ref.Key()), logger.KeyUser, userLabel(user))
		return "", 0, wopierrors.NewAccessDenied(string(ability.Retrieve))
	}

	tok, err := newToken()
	if err != nil {
		return "", 0, err
	}

	now := s.now().UTC()
	ac := AccessContext{
		Resource:  ref,
		User:      user,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	raw, err := json.Marshal(ac)
	if err != nil {
		return "", 0, fmt.Errorf("token: encode: %w", err)
	}
	if err := s.cache.Set(ctx, keyPrefix+tok, raw, s.ttl); err != nil {
		return "", 0, fmt.Errorf("token: store: %w", err)
	}

	if s.issued != nil {
		s.issued.Inc()
	}
	logger.DebugCtx(ctx, "token issued",
		logger.TokenHash(tok),
		logger.Resource(ref.Key()),
		logger.KeyUser, userLabel(user),
	)
	return tok, ac.ExpiresAt.UnixMilli(), nil
}

// Resolve returns the AccessContext of tok. Absent, expired and malformed
// tokens all fail with AccessNotFound.
func (s *Service) Resolve(ctx context.Context, tok string) (*AccessContext, error) {
	if len(tok) != tokenLength {
		return nil, wopierrors.NewAccessNotFound("malformed access token")
	}
	if _, err := base64.RawURLEncoding.DecodeString(tok); err != nil {
		return nil, wopierrors.NewAccessNotFound("malformed access token")
	}

	raw, err := s.cache.Get(ctx, keyPrefix+tok)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, wopierrors.NewAccessNotFound("unknown or expired access token")
	}
	if err != nil {
		return nil, fmt.Errorf("token: load: %w", err)
	}

	var ac AccessContext
	if err := json.Unmarshal(raw, &ac); err != nil {
		logger.WarnCtx(ctx, "undecodable access context", logger.TokenHash(tok), logger.Err(err))
		return nil, wopierrors.NewAccessNotFound("malformed access context")
	}
	if !s.now().Before(ac.ExpiresAt) {
		return nil, wopierrors.NewAccessNotFound("unknown or expired access token")
	}
	if err := ac.Resource.Validate(); err != nil {
		return nil, wopierrors.NewAccessNotFound("malformed access context")
	}
	return &ac, nil
}

// Revoke invalidates tok. Revoking an unknown token is not an error.
func (s *Service) Revoke(ctx context.Context, tok string) error {
	if err := s.cache.Delete(ctx, keyPrefix+tok); err != nil {
		return fmt.Errorf("token: revoke: %w", err)
	}
	logger.DebugCtx(ctx, "token revoked", logger.TokenHash(tok))
	return nil
}

func userLabel(user *string) string {
	if user == nil {
		return "anonymous"
	}
	return *user
}
