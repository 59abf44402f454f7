package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewJWTService_Secret(t *testing.T) {
	t.Parallel()

	_, err := NewJWTService(JWTConfig{})
	assert.ErrorIs(t, err, ErrAdminDisabled)

	_, err = NewJWTService(JWTConfig{Secret: "short"})
	assert.ErrorIs(t, err, ErrInvalidSecretLength)

	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, svc.TokenTTL())
}

func TestJWTService_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role     string
		admin    bool
		canIssue bool
	}{
		{RoleAdmin, true, true},
		{RoleIssuer, false, true},
	}
	svc, err := NewJWTService(JWTConfig{Secret: testSecret, TokenTTL: time.Hour})
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			t.Parallel()
			signed, exp, err := svc.GenerateToken("portal", tt.role)
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

			claims, err := svc.ValidateToken(signed)
			require.NoError(t, err)
			assert.Equal(t, "portal", claims.Subject)
			assert.Equal(t, DefaultIssuer, claims.Issuer)
			assert.Equal(t, tt.admin, claims.IsAdmin())
			assert.Equal(t, tt.canIssue, claims.CanIssue())
		})
	}
}

func TestJWTService_UnknownRole(t *testing.T) {
	t.Parallel()

	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	_, _, err = svc.GenerateToken("portal", "root")
	assert.Error(t, err)
}

func TestJWTService_Expired(t *testing.T) {
	t.Parallel()

	svc, err := NewJWTService(JWTConfig{Secret: testSecret, TokenTTL: time.Minute})
	require.NoError(t, err)
	signed, _, err := svc.GenerateToken("portal", RoleAdmin)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTService_Rejects(t *testing.T) {
	t.Parallel()

	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	other, err := NewJWTService(JWTConfig{Secret: strings.Repeat("x", 32)})
	require.NoError(t, err)
	foreignIssuer, err := NewJWTService(JWTConfig{Secret: testSecret, Issuer: "someone-else"})
	require.NoError(t, err)

	wrongKey, _, err := other.GenerateToken("portal", RoleAdmin)
	require.NoError(t, err)
	wrongIss, _, err := foreignIssuer.GenerateToken("portal", RoleAdmin)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":      "not-a-jwt",
		"wrong key":    wrongKey,
		"wrong issuer": wrongIss,
		"alg none":     unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.ValidateToken(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
