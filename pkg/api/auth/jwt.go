// Package auth signs and validates the bearer tokens that protect the
// admin API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors for JWT operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
	ErrAdminDisabled       = errors.New("admin API disabled: no JWT secret configured")
)

const (
	// DefaultIssuer is the iss claim of tokens minted by wopid.
	DefaultIssuer = "wopid"

	// DefaultTokenTTL is the lifetime of admin tokens.
	DefaultTokenTTL = 15 * time.Minute

	// RoleAdmin may call every admin endpoint.
	RoleAdmin = "admin"

	// RoleIssuer may only mint WOPI access tokens.
	RoleIssuer = "issuer"
)

// JWTConfig holds configuration for admin token signing.
type JWTConfig struct {
	// Secret is the HMAC signing key. Empty disables the admin API.
	Secret string `mapstructure:"jwt_secret" validate:"omitempty,min=32" yaml:"jwt_secret"`

	// Issuer is the token issuer claim. Default: "wopid"
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// TokenTTL is the lifetime of minted tokens. Default: 15m
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// Enabled reports whether a signing secret is configured.
func (c JWTConfig) Enabled() bool {
	return c.Secret != ""
}

// ApplyDefaults fills unset fields.
func (c *JWTConfig) ApplyDefaults() {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
}

// Claims are the JWT claims carried by admin tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IsAdmin reports whether the token grants full admin access.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanIssue reports whether the token may mint WOPI access tokens.
func (c *Claims) CanIssue() bool {
	return c.Role == RoleAdmin || c.Role == RoleIssuer
}

// JWTService handles admin token generation and validation.
type JWTService struct {
	config JWTConfig
	now    func() time.Time
}

// NewJWTService creates a new JWT service with the given configuration.
func NewJWTService(config JWTConfig) (*JWTService, error) {
	if config.Secret == "" {
		return nil, ErrAdminDisabled
	}
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	config.ApplyDefaults()
	return &JWTService{config: config, now: time.Now}, nil
}

// GenerateToken signs a token for subject with the given role.
func (s *JWTService) GenerateToken(subject, role string) (string, time.Time, error) {
	if role != RoleAdmin && role != RoleIssuer {
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}
	now := s.now()
	expiresAt := now.Add(s.config.TokenTTL)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, ErrTokenSigningFailed
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token and returns its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	},
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenTTL returns the configured token lifetime.
func (s *JWTService) TokenTTL() time.Duration {
	return s.config.TokenTTL
}
