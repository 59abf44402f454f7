package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	client := New("http://localhost:8080/")
	assert.Equal(t, "http://localhost:8080", client.baseURL)
}

func TestWithToken(t *testing.T) {
	t.Parallel()
	client := New("http://localhost:8080")
	tokenClient := client.WithToken("test-token")

	assert.Empty(t, client.token)
	assert.Equal(t, "test-token", tokenClient.token)
	assert.Equal(t, "http://localhost:8080", tokenClient.baseURL)
}

func TestIssueToken(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/tokens", r.URL.Path)
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))

		var req IssueTokenRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "doc-1", req.ItemID)
		assert.Equal(t, "alice", *req.User)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(AccessToken{
			AccessToken:    "tok",
			AccessTokenTTL: 1700000000000,
			FileID:         "doc-1",
			WopiSrc:        "https://wopi.example.com/wopi/files/doc-1",
		})
	}))
	defer server.Close()

	user := "alice"
	tok, err := New(server.URL).WithToken("jwt").IssueToken(context.Background(), IssueTokenRequest{ItemID: "doc-1", User: &user})
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)
	assert.Equal(t, int64(1700000000), tok.ExpiresAt().Unix())
}

func TestRevokeToken(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/tokens/abc_-def", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	require.NoError(t, New(server.URL).RevokeToken(context.Background(), "abc_-def"))
}

func TestProblemResponses(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/items":
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"title":"Conflict","status":409,"detail":"an item with that name already exists"}`))
		default:
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		}
	}))
	defer server.Close()
	client := New(server.URL)

	_, err := client.CreateItem(context.Background(), CreateItemRequest{Name: "a.docx"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsConflict())
	assert.Equal(t, "an item with that name already exists", apiErr.Detail)

	_, err = client.GetDiscovery(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsAuthError())
	assert.Equal(t, "Unauthorized", apiErr.Title)
	assert.Equal(t, "Invalid or expired token", apiErr.Detail)
}

func TestRequestHeaders(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wopid-cli/1.2.3", r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL).WithToken("jwt").WithUserAgent("wopid-cli/1.2.3")
	require.NoError(t, client.RevokeToken(context.Background(), "tok"))
}
