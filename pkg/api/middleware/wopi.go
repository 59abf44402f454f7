package middleware

import (
	"context"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/wopihost/internal/logger"
	wopierrors "github.com/marmos91/wopihost/pkg/wopi/errors"
	"github.com/marmos91/wopihost/pkg/wopi/proof"
	"github.com/marmos91/wopihost/pkg/wopi/token"
)

// Proof headers sent by WOPI clients.
const (
	HeaderTimestamp = "X-WOPI-TimeStamp"
	HeaderProof     = "X-WOPI-Proof"
	HeaderProofOld  = "X-WOPI-ProofOld"
)

// AccessTokenParam is the query parameter carrying the access token.
const AccessTokenParam = "access_token"

// AccessFromContext returns the access context bound by WopiAccess, or nil.
func AccessFromContext(ctx context.Context) *token.AccessContext {
	ac, _ := ctx.Value(accessContextKey).(*token.AccessContext)
	return ac
}

// WithAccess binds ac to ctx.
func WithAccess(ctx context.Context, ac *token.AccessContext) context.Context {
	return context.WithValue(ctx, accessContextKey, ac)
}

// LogContext attaches a logger.LogContext carrying the chi request id and
// the client address. Must run after chi's RequestID and RealIP.
func LogContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		lc := logger.NewLogContext(ip, chimw.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), lc)))
	})
}

// accessToken returns the token from the query string, falling back to a
// Bearer Authorization header.
func accessToken(r *http.Request) string {
	if tok := r.URL.Query().Get(AccessTokenParam); tok != "" {
		return tok
	}
	tok, _ := extractBearerToken(r)
	return tok
}

// WopiAccess resolves the access token and checks that it was issued for
// the file named by the {id} route parameter. Both failures answer 401
// without revealing which check failed.
func WopiAccess(tokens *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tok := accessToken(r)
			if tok == "" {
				http.Error(w, "Access token required", http.StatusUnauthorized)
				return
			}

			ac, err := tokens.Resolve(ctx, tok)
			if err != nil {
				if wopierrors.IsCode(err, wopierrors.ErrAccessNotFound) {
					logger.DebugCtx(ctx, "Access token rejected", logger.TokenHash(tok))
					http.Error(w, "Invalid access token", http.StatusUnauthorized)
					return
				}
				logger.ErrorCtx(ctx, "Access token lookup failed", logger.Err(err))
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}

			id := chi.URLParam(r, "id")
			if id != ac.Resource.FileID() {
				logger.InfoCtx(ctx, "Access token used for another file",
					logger.TokenHash(tok), logger.FileID(id))
				http.Error(w, "Invalid access token", http.StatusUnauthorized)
				return
			}

			ctx = WithAccess(ctx, ac)
			if lc := logger.FromContext(ctx); lc != nil {
				ctx = logger.WithContext(ctx, lc.WithFile(id, ac.UserName()))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProofKeys supplies the proof keys of the configured WOPI clients.
type ProofKeys interface {
	KeySets() map[string]proof.KeySet
	ProofRequired() bool
}

// WopiProof verifies X-WOPI-Proof signatures.
//
// A signed request must verify against the keys of at least one client.
// An unsigned request passes only while some client has no keys, since
// such a client cannot sign. With no keys at all, verification is off.
func WopiProof(v *proof.Verifier, keys ProofKeys, publicURL string) func(http.Handler) http.Handler {
	if v == nil {
		v = proof.NewVerifier(proof.DefaultMaxAge)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sets := keys.KeySets()
			signature := r.Header.Get(HeaderProof)

			if signature == "" {
				if keys.ProofRequired() {
					logger.InfoCtx(ctx, "Unsigned WOPI request rejected")
					http.Error(w, "Proof required", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(sets) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			req := proof.Request{
				AccessToken: accessToken(r),
				URL:         RequestURL(r, publicURL),
				Timestamp:   r.Header.Get(HeaderTimestamp),
				Proof:       signature,
				ProofOld:    r.Header.Get(HeaderProofOld),
			}

			names := make([]string, 0, len(sets))
			for name := range sets {
				names = append(names, name)
			}
			sort.Strings(names)

			var lastErr error
			for _, name := range names {
				if lastErr = v.VerifyRequest(sets[name], req); lastErr == nil {
					logger.DebugCtx(ctx, "Proof verified", logger.KeyClient, name)
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.InfoCtx(ctx, "Proof verification failed", logger.Err(lastErr))
			http.Error(w, "Proof verification failed", http.StatusUnauthorized)
		})
	}
}

// BaseURL returns the externally visible scheme and host of the server.
// publicURL wins when set; otherwise it is derived from the request,
// honouring X-Forwarded-Proto.
func BaseURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + r.Host
}

// RequestURL is the absolute URL of r as the WOPI client addressed it.
func RequestURL(r *http.Request, publicURL string) string {
	return BaseURL(r, publicURL) + r.URL.RequestURI()
}
