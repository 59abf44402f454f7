package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a failed API response. Problem responses are decoded; plain
// text bodies end up in Detail.
type APIError struct {
	StatusCode int    `json:"-"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{}
	if json.Unmarshal(body, apiErr) != nil || apiErr.Title == "" {
		apiErr = &APIError{Title: http.StatusText(status), Detail: strings.TrimSpace(string(body))}
	}
	apiErr.StatusCode = status
	return apiErr
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", e.Title, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s (%d)", e.Title, e.StatusCode)
}

// IsAuthError reports a rejected or insufficient admin token.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound reports an unknown resource.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict reports a name collision.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}
