package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/api/auth"
	"github.com/marmos91/wopihost/pkg/api/handlers"
	apimw "github.com/marmos91/wopihost/pkg/api/middleware"
	"github.com/marmos91/wopihost/pkg/cache"
	"github.com/marmos91/wopihost/pkg/wopi/content"
	"github.com/marmos91/wopihost/pkg/wopi/discovery"
	"github.com/marmos91/wopihost/pkg/wopi/lock"
	"github.com/marmos91/wopihost/pkg/wopi/proof"
	"github.com/marmos91/wopihost/pkg/wopi/token"
)

// Dependencies are the engine components served over HTTP.
type Dependencies struct {
	Tokens    *token.Service
	Locks     *lock.Registry
	Content   *content.Gateway
	Oracle    ability.Oracle
	Proof     *proof.Verifier
	Discovery *discovery.Resolver
	Cache     cache.Cache

	// Store is health-checked by /health/ready.
	Store handlers.HealthChecker

	// Items backs POST /api/v1/items. Optional.
	Items handlers.ItemCreator

	// JWT protects /api/v1. Nil leaves the admin API unmounted.
	JWT *auth.JWTService

	// Metrics records WOPI requests. Optional.
	Metrics handlers.RequestMetrics
}

// NewRouter creates the chi router.
//
// Routes:
//   - GET /health, GET /health/ready
//   - GET|POST /wopi/files/{id}, GET|POST /wopi/files/{id}/contents
//   - /api/v1/... admin endpoints, when deps.JWT is set
//
// WOPI routes carry no request timeout: uploads and downloads are bounded
// by the server read and write timeouts instead.
func NewRouter(cfg Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimw.LogContext)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	health := handlers.NewHealthHandler(cacheChecker(deps.Cache), deps.Store, readiness(deps.Discovery))
	r.Route("/health", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	files := handlers.NewFilesHandler(deps.Locks, deps.Content, deps.Oracle, deps.Metrics)
	r.Route("/wopi/files/{id}", func(r chi.Router) {
		r.Use(apimw.WopiAccess(deps.Tokens))
		r.Use(apimw.WopiProof(deps.Proof, deps.Discovery, cfg.PublicURL))

		r.Get("/", files.CheckFileInfo)
		r.Post("/", files.Post)
		r.Get("/contents", files.GetFile)
		r.Post("/contents", files.PutFile)
	})

	if deps.JWT != nil {
		admin := handlers.NewAdminHandler(deps.Tokens, deps.Oracle, deps.Content, deps.Discovery, deps.Items, cfg.PublicURL)
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(apimw.JWTAuth(deps.JWT))

			r.With(apimw.RequireIssuer()).Post("/tokens", admin.IssueToken)

			r.Group(func(r chi.Router) {
				r.Use(apimw.RequireAdmin())
				r.Delete("/tokens/{token}", admin.RevokeToken)
				r.Get("/discovery", admin.GetDiscovery)
				r.Post("/discovery/refresh", admin.RefreshDiscovery)
				r.Post("/items", admin.CreateItem)
			})
		})
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// cacheChecker and readiness keep typed nils out of the health handler.
func cacheChecker(c cache.Cache) handlers.HealthChecker {
	if c == nil {
		return nil
	}
	return c
}

func readiness(d *discovery.Resolver) handlers.Readiness {
	if d == nil {
		return nil
	}
	return d
}

// requestLogger logs each request with the internal logger. Query
// strings are never logged since they carry access tokens.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		logger.DebugCtx(r.Context(), "API request started",
			"method", r.Method,
			"path", r.URL.Path,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.InfoCtx(r.Context(), "API request completed",
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
