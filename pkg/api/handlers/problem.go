// Package handlers provides the HTTP handlers of the wopid API.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/marmos91/wopihost/internal/logger"
	wopierrors "github.com/marmos91/wopihost/pkg/wopi/errors"
)

// WOPI protocol headers.
const (
	HeaderOverride             = "X-WOPI-Override"
	HeaderLock                 = "X-WOPI-Lock"
	HeaderOldLock              = "X-WOPI-OldLock"
	HeaderLockFailureReason    = "X-WOPI-LockFailureReason"
	HeaderItemVersion          = "X-WOPI-ItemVersion"
	HeaderRequestedName        = "X-WOPI-RequestedName"
	HeaderInvalidFileNameError = "X-WOPI-InvalidFileNameError"
	HeaderMaxExpectedSize      = "X-WOPI-MaxExpectedSize"
)

// Problem represents an RFC 7807 "problem details" response.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// Unauthorized writes a 401 Unauthorized problem response.
func Unauthorized(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// Forbidden writes a 403 Forbidden problem response.
func Forbidden(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusForbidden, "Forbidden", detail)
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "Not Found", detail)
}

// InternalServerError writes a 500 Internal Server Error problem response.
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteJSONOK writes a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONCreated writes a 201 Created JSON response.
func WriteJSONCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, data)
}

// WriteError translates err into the WOPI status contract.
//
// Lock conflicts always carry X-WOPI-Lock, set to "" when the resource
// is unlocked. Rename failures carry X-WOPI-InvalidFileNameError.
// Errors outside the taxonomy become 500 and their text is only logged.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	we, ok := wopierrors.As(err)
	if !ok {
		logger.ErrorCtx(r.Context(), "Unhandled error", logger.Err(err))
		InternalServerError(w, "internal error")
		return
	}

	switch we.Code {
	case wopierrors.ErrLockConflict:
		w.Header().Set(HeaderLock, we.Lock)
		if we.Reason != "" {
			w.Header().Set(HeaderLockFailureReason, we.Reason)
		}
	case wopierrors.ErrInvalidName, wopierrors.ErrNameCollision:
		w.Header().Set(HeaderInvalidFileNameError, we.Reason)
	case wopierrors.ErrStoreFailure:
		logger.ErrorCtx(r.Context(), "Store failure", logger.Err(err))
	}

	status := we.Code.HTTPStatus()
	detail := we.Message
	if status >= http.StatusInternalServerError {
		detail = we.Code.String()
	}
	WriteProblem(w, status, http.StatusText(status), detail)
}

// Response is the envelope of health endpoints.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func healthyResponse(data any) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(errMsg string, data any) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg, Data: data}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}
