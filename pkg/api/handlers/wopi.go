package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/internal/telemetry"
	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/api/middleware"
	"github.com/marmos91/wopihost/pkg/wopi/content"
	wopierrors "github.com/marmos91/wopihost/pkg/wopi/errors"
	"github.com/marmos91/wopihost/pkg/wopi/lock"
	"github.com/marmos91/wopihost/pkg/wopi/token"
)

// WOPI operation names, used for spans, logs and metric labels.
const (
	OpCheckFileInfo   = "CHECK_FILE_INFO"
	OpGetFile         = "GET_FILE"
	OpPutFile         = "PUT"
	OpGetLock         = "GET_LOCK"
	OpLock            = "LOCK"
	OpUnlockAndRelock = "UNLOCK_AND_RELOCK"
	OpRefreshLock     = "REFRESH_LOCK"
	OpUnlock          = "UNLOCK"
	OpRenameFile      = "RENAME_FILE"
	OpUnknown         = "UNKNOWN"
)

// RequestMetrics records served WOPI requests.
type RequestMetrics interface {
	ObserveRequest(operation string, status int, d time.Duration)
}

// FilesHandler serves /wopi/files/{id}. Requests reach it after
// WopiAccess has bound the access context and WopiProof has checked the
// signature, so every method only checks abilities.
type FilesHandler struct {
	locks   *lock.Registry
	content *content.Gateway
	oracle  ability.Oracle
	metrics RequestMetrics
}

// NewFilesHandler creates the WOPI files handler. m may be nil.
func NewFilesHandler(locks *lock.Registry, gw *content.Gateway, oracle ability.Oracle, m RequestMetrics) *FilesHandler {
	return &FilesHandler{locks: locks, content: gw, oracle: oracle, metrics: m}
}

type opFunc func(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error

// serve runs one WOPI operation inside its span and records the outcome.
// Errors returned by fn are written with WriteError.
func (h *FilesHandler) serve(w http.ResponseWriter, r *http.Request, op string, fn opFunc) {
	start := time.Now()
	ac := middleware.AccessFromContext(r.Context())
	if ac == nil {
		Unauthorized(w, "missing access context")
		return
	}

	ctx, span := telemetry.StartWopiSpan(r.Context(), op, ac.Resource.FileID(),
		telemetry.ResourceKind(string(ac.Resource.Kind)))
	defer span.End()

	if lc := logger.FromContext(ctx); lc != nil {
		lc = lc.WithOperation(op)
		if sc := span.SpanContext(); sc.IsValid() {
			lc = lc.WithTrace(sc.TraceID().String(), sc.SpanID().String())
		}
		ctx = logger.WithContext(ctx, lc)
	}
	r = r.WithContext(ctx)

	ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
	if err := fn(ww, r, ac); err != nil {
		telemetry.RecordError(ctx, err)
		WriteError(ww, r, err)
	}

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	telemetry.SetAttributes(ctx, telemetry.WopiStatus(status))
	if h.metrics != nil {
		h.metrics.ObserveRequest(op, status, time.Since(start))
	}
	logger.DebugCtx(ctx, "WOPI request completed",
		logger.KeyStatus, status, logger.KeyDurationMs, logger.Duration(start))
}

// abilities asks the oracle on every request, so policy changes apply to
// tokens already issued.
func (h *FilesHandler) abilities(ctx context.Context, ac *token.AccessContext) (ability.Set, error) {
	set, err := h.oracle.Abilities(ctx, ac.Resource, ac.User)
	if err != nil {
		return ability.Set{}, fmt.Errorf("ability check: %w", err)
	}
	return set, nil
}

func (h *FilesHandler) authorize(ctx context.Context, ac *token.AccessContext, a ability.Ability) error {
	set, err := h.abilities(ctx, ac)
	if err != nil {
		return err
	}
	if !set.Has(a) {
		logger.InfoCtx(ctx, "Ability denied", logger.Resource(ac.Resource.Key()), "ability", string(a))
		return wopierrors.NewAccessDenied(string(a))
	}
	return nil
}

// requireHeader returns the header value, or BadRequest when it is
// absent or empty.
func requireHeader(r *http.Request, name string) (string, error) {
	v := r.Header.Get(name)
	if v == "" {
		return "", wopierrors.NewBadRequest("missing " + name)
	}
	return v, nil
}

func hasHeader(r *http.Request, name string) bool {
	return len(r.Header.Values(name)) > 0
}

// CheckFileInfo handles GET /wopi/files/{id}.
func (h *FilesHandler) CheckFileInfo(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, OpCheckFileInfo, func(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error {
		ctx := r.Context()
		set, err := h.abilities(ctx, ac)
		if err != nil {
			return err
		}
		if !set.Retrieve {
			return wopierrors.NewAccessDenied(string(ability.Retrieve))
		}

		info, err := h.content.CheckFileInfo(ctx, ac.Resource, ac.User, set)
		if err != nil {
			return err
		}
		w.Header().Set(HeaderItemVersion, info.Version)
		WriteJSONOK(w, info)
		return nil
	})
}

// GetFile handles GET /wopi/files/{id}/contents.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, OpGetFile, func(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error {
		ctx := r.Context()
		if err := h.authorize(ctx, ac, ability.Retrieve); err != nil {
			return err
		}

		var maxSize *int64
		if v := r.Header.Get(HeaderMaxExpectedSize); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return wopierrors.NewBadRequest("malformed " + HeaderMaxExpectedSize)
			}
			maxSize = &n
		}

		rc, version, err := h.content.GetFileContent(ctx, ac.Resource, maxSize)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set(HeaderItemVersion, version)
		w.WriteHeader(http.StatusOK)

		n, err := h.content.CopyTo(w, rc)
		if err != nil {
			// Headers are gone; the client sees a short body.
			logger.WarnCtx(ctx, "GetFile stream aborted", logger.KeyBytes, n, logger.Err(err))
			return nil
		}
		telemetry.SetAttributes(ctx, telemetry.WopiBytes(n), telemetry.WopiVersion(version))
		return nil
	})
}

// PutFile handles POST /wopi/files/{id}/contents with X-WOPI-Override: PUT.
func (h *FilesHandler) PutFile(w http.ResponseWriter, r *http.Request) {
	override := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderOverride)))
	if override != OpPutFile {
		h.serve(w, r, OpUnknown, func(http.ResponseWriter, *http.Request, *token.AccessContext) error {
			if override == "" {
				return wopierrors.NewBadRequest("missing " + HeaderOverride)
			}
			return wopierrors.NewNotImplemented(override)
		})
		return
	}

	h.serve(w, r, OpPutFile, func(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error {
		ctx := r.Context()
		if err := h.authorize(ctx, ac, ability.Write); err != nil {
			return err
		}

		version, err := h.content.PutFileContent(ctx, ac.Resource, r.Header.Get(HeaderLock), r.Body)
		if err != nil {
			return err
		}
		w.Header().Set(HeaderItemVersion, version)
		w.WriteHeader(http.StatusOK)
		return nil
	})
}

// Post handles POST /wopi/files/{id}, dispatching on X-WOPI-Override.
// LOCK with X-WOPI-OldLock is UNLOCK_AND_RELOCK.
func (h *FilesHandler) Post(w http.ResponseWriter, r *http.Request) {
	override := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderOverride)))
	switch override {
	case OpGetLock:
		h.serve(w, r, OpGetLock, h.getLock)
	case OpLock:
		if hasHeader(r, HeaderOldLock) {
			h.serve(w, r, OpUnlockAndRelock, h.unlockAndRelock)
		} else {
			h.serve(w, r, OpLock, h.lock)
		}
	case OpRefreshLock:
		h.serve(w, r, OpRefreshLock, h.refreshLock)
	case OpUnlock:
		h.serve(w, r, OpUnlock, h.unlock)
	case OpRenameFile:
		h.serve(w, r, OpRenameFile, h.renameFile)
	default:
		h.serve(w, r, OpUnknown, func(http.ResponseWriter, *http.Request, *token.AccessContext) error {
			if override == "" {
				return wopierrors.NewBadRequest("missing " + HeaderOverride)
			}
			return wopierrors.NewNotImplemented(override)
		})
	}
}

// lockOp runs a lock-family mutation: ability, then headers, then the
// resource version (so a missing file answers 404), then the registry.
func (h *FilesHandler) lockOp(w http.ResponseWriter, r *http.Request, ac *token.AccessContext, mutate func(ctx context.Context, key, v string) error, extra ...string) error {
	ctx := r.Context()
	if err := h.authorize(ctx, ac, ability.Write); err != nil {
		return err
	}
	v, err := requireHeader(r, HeaderLock)
	if err != nil {
		return err
	}
	for _, name := range extra {
		if _, err := requireHeader(r, name); err != nil {
			return err
		}
	}
	version, err := h.content.Version(ctx, ac.Resource)
	if err != nil {
		return err
	}
	if err := mutate(ctx, ac.Resource.Key(), v); err != nil {
		return err
	}
	w.Header().Set(HeaderItemVersion, version)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *FilesHandler) lock(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error {
	return h.lockOp(w, r, ac, h.locks.Lock)
}

func (h *FilesHandler) refreshLock(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error {
	return h.lockOp(w, r, ac, h.locks.Refresh)
}

func (h *FilesHandler) unlock(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error {
	return h.lockOp(w, r, ac, h.locks.Unlock)
}

func (h *FilesHandler) unlockAndRelock(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error {
	oldValue := r.Header.Get(HeaderOldLock)
	return h.lockOp(w, r, ac, func(ctx context.Context, key, v string) error {
		return h.locks.UnlockAndRelock(ctx, key, oldValue, v)
	}, HeaderOldLock)
}

func (h *FilesHandler) getLock(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error {
	ctx := r.Context()
	if err := h.authorize(ctx, ac, ability.Retrieve); err != nil {
		return err
	}
	version, err := h.content.Version(ctx, ac.Resource)
	if err != nil {
		return err
	}
	current, err := h.locks.Get(ctx, ac.Resource.Key())
	if err != nil {
		return err
	}
	w.Header().Set(HeaderLock, current)
	w.Header().Set(HeaderItemVersion, version)
	w.WriteHeader(http.StatusOK)
	return nil
}

// RenameResponse is the RENAME_FILE body: the new name without extension.
type RenameResponse struct {
	Name string `json:"Name"`
}

func (h *FilesHandler) renameFile(w http.ResponseWriter, r *http.Request, ac *token.AccessContext) error {
	ctx := r.Context()
	if err := h.authorize(ctx, ac, ability.Rename); err != nil {
		return err
	}

	requested := decodeRequestedName(r.Header.Get(HeaderRequestedName))
	full, err := h.content.RenameFile(ctx, ac.Resource, requested, r.Header.Get(HeaderLock))
	if err != nil {
		return err
	}
	WriteJSONOK(w, RenameResponse{Name: strings.TrimSuffix(full, path.Ext(full))})
	return nil
}
