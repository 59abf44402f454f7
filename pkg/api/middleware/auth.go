// Package middleware provides HTTP middleware for the wopid API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/marmos91/wopihost/pkg/api/auth"
)

type contextKey string

const (
	claimsContextKey contextKey = "claims"
	accessContextKey contextKey = "access"
)

// GetClaimsFromContext retrieves admin JWT claims from the request context.
// Returns nil outside routes protected by JWTAuth.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// extractBearerToken extracts the token from a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	return parts[1], true
}

// JWTAuth validates the admin bearer token and stores its claims in the
// request context. Missing or invalid tokens get 401.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin blocks callers without the admin role.
// Must be used after JWTAuth.
func RequireAdmin() func(http.Handler) http.Handler {
	return requireClaim("Admin access required", (*auth.Claims).IsAdmin)
}

// RequireIssuer blocks callers that may not mint access tokens.
// Must be used after JWTAuth.
func RequireIssuer() func(http.Handler) http.Handler {
	return requireClaim("Issuer access required", (*auth.Claims).CanIssue)
}

func requireClaim(msg string, allowed func(*auth.Claims) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			if !allowed(claims) {
				http.Error(w, msg, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
