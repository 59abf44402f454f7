package api_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/api"
	"github.com/marmos91/wopihost/pkg/api/handlers"
	cachememory "github.com/marmos91/wopihost/pkg/cache/memory"
	"github.com/marmos91/wopihost/pkg/store"
	memstore "github.com/marmos91/wopihost/pkg/store/memory"
	"github.com/marmos91/wopihost/pkg/wopi/content"
	"github.com/marmos91/wopihost/pkg/wopi/discovery"
	"github.com/marmos91/wopihost/pkg/wopi/lock"
	"github.com/marmos91/wopihost/pkg/wopi/proof"
	"github.com/marmos91/wopihost/pkg/wopi/token"
)

const publicURL = "https://wopi.example.com"

type observed struct {
	op     string
	status int
}

type recordingMetrics struct {
	mu   sync.Mutex
	seen []observed
}

func (m *recordingMetrics) ObserveRequest(op string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, observed{op, status})
}

func (m *recordingMetrics) all() []observed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]observed(nil), m.seen...)
}

// oracle grants everything to alice, read access to reader and to the
// anonymous user, and nothing to anyone else.
var oracle = ability.OracleFunc(func(_ context.Context, _ store.ResourceRef, user *string) (ability.Set, error) {
	switch {
	case user == nil:
		return ability.Set{Retrieve: true}, nil
	case *user == "alice":
		return ability.All, nil
	case *user == "reader":
		return ability.Set{Retrieve: true}, nil
	}
	return ability.Set{}, nil
})

type fixture struct {
	handler http.Handler
	tokens  *token.Service
	store   *memstore.Store
	metrics *recordingMetrics
	ref     store.ResourceRef
}

func newFixture(t *testing.T, clients ...discovery.ClientConfig) *fixture {
	t.Helper()
	c, err := cachememory.New(1024)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s := memstore.New()
	ref := store.ItemRef("doc-1")
	s.Put(ref, "folder", "report.docx", "alice", []byte("hello"))
	s.Put(store.ItemRef("doc-2"), "folder", "taken.docx", "alice", nil)

	resolver, err := discovery.New(discovery.Config{}, clients, c)
	require.NoError(t, err)

	locks := lock.NewRegistry(c, lock.DefaultConfig())
	tokens := token.NewService(c, token.Config{})
	m := &recordingMetrics{}

	deps := api.Dependencies{
		Tokens:    tokens,
		Locks:     locks,
		Content:   content.New(s, locks, content.Config{}),
		Oracle:    oracle,
		Proof:     proof.NewVerifier(proof.DefaultMaxAge),
		Discovery: resolver,
		Cache:     c,
		Store:     &store.Composite{Items: s},
		Metrics:   m,
	}
	return &fixture{
		handler: api.NewRouter(api.Config{PublicURL: publicURL}, deps),
		tokens:  tokens,
		store:   s,
		metrics: m,
		ref:     ref,
	}
}

func (f *fixture) issue(t *testing.T, user *string) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(context.Background(), f.ref, user, oracle)
	require.NoError(t, err)
	return tok
}

func strPtr(s string) *string { return &s }

type call struct {
	method  string
	path    string
	token   string
	headers map[string]string
	body    string
}

func (f *fixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	target := c.path
	if c.token != "" {
		target += "?access_token=" + c.token
	}
	req := httptest.NewRequest(c.method, target, strings.NewReader(c.body))
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) override(t *testing.T, tok, op string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	h := map[string]string{handlers.HeaderOverride: op}
	for k, v := range headers {
		h[k] = v
	}
	return f.do(t, call{method: http.MethodPost, path: "/wopi/files/doc-1", token: tok, headers: h})
}

func lockHeader(rec *httptest.ResponseRecorder) (string, bool) {
	vals := rec.Header().Values(handlers.HeaderLock)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func TestWopiEditingSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.issue(t, strPtr("alice"))

	rec := f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1", token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(handlers.HeaderItemVersion))
	var info content.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "report.docx", info.BaseFileName)
	assert.Equal(t, "alice", info.UserId)
	assert.True(t, info.UserCanWrite)
	assert.True(t, info.UserCanRename)

	rec = f.override(t, tok, "LOCK", map[string]string{handlers.HeaderLock: "A"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(handlers.HeaderItemVersion))

	rec = f.override(t, tok, "GET_LOCK", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v, _ := lockHeader(rec)
	assert.Equal(t, "A", v)

	rec = f.do(t, call{method: http.MethodPost, path: "/wopi/files/doc-1/contents", token: tok,
		headers: map[string]string{handlers.HeaderOverride: "PUT", handlers.HeaderLock: "A"}, body: "new content"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get(handlers.HeaderItemVersion))

	rec = f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1/contents", token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new content", rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get(handlers.HeaderItemVersion))

	rec = f.override(t, tok, "REFRESH_LOCK", map[string]string{handlers.HeaderLock: "A"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.override(t, tok, "LOCK", map[string]string{handlers.HeaderLock: "B", handlers.HeaderOldLock: "A"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.override(t, tok, "GET_LOCK", nil)
	v, _ = lockHeader(rec)
	assert.Equal(t, "B", v)

	rec = f.override(t, tok, "UNLOCK", map[string]string{handlers.HeaderLock: "B"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.override(t, tok, "GET_LOCK", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v, present := lockHeader(rec)
	assert.True(t, present, "GET_LOCK always sets X-WOPI-Lock")
	assert.Empty(t, v)

	ops := make([]string, 0)
	for _, o := range f.metrics.all() {
		ops = append(ops, o.op)
	}
	assert.Equal(t, []string{
		handlers.OpCheckFileInfo, handlers.OpLock, handlers.OpGetLock, handlers.OpPutFile,
		handlers.OpGetFile, handlers.OpRefreshLock, handlers.OpUnlockAndRelock, handlers.OpGetLock,
		handlers.OpUnlock, handlers.OpGetLock,
	}, ops)
}

func TestLockConflictsCarryCurrentLock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.issue(t, strPtr("alice"))

	rec := f.override(t, tok, "UNLOCK", map[string]string{handlers.HeaderLock: "A"})
	require.Equal(t, http.StatusConflict, rec.Code)
	v, present := lockHeader(rec)
	assert.True(t, present, "conflict on an unlocked file still sets X-WOPI-Lock")
	assert.Empty(t, v)

	require.Equal(t, http.StatusOK, f.override(t, tok, "LOCK", map[string]string{handlers.HeaderLock: "A"}).Code)

	tests := []struct {
		name    string
		op      string
		headers map[string]string
	}{
		{"lock with another value", "LOCK", map[string]string{handlers.HeaderLock: "B"}},
		{"refresh with another value", "REFRESH_LOCK", map[string]string{handlers.HeaderLock: "B"}},
		{"unlock with another value", "UNLOCK", map[string]string{handlers.HeaderLock: "B"}},
		{"relock from wrong old value", "LOCK", map[string]string{handlers.HeaderLock: "C", handlers.HeaderOldLock: "B"}},
	}
	for _, tt := range tests {
		rec := f.override(t, tok, tt.op, tt.headers)
		assert.Equal(t, http.StatusConflict, rec.Code, tt.name)
		v, _ := lockHeader(rec)
		assert.Equal(t, "A", v, tt.name)
		assert.NotEmpty(t, rec.Header().Get(handlers.HeaderLockFailureReason), tt.name)
	}

	rec = f.do(t, call{method: http.MethodPost, path: "/wopi/files/doc-1/contents", token: tok,
		headers: map[string]string{handlers.HeaderOverride: "PUT", handlers.HeaderLock: "B"}, body: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	v, _ = lockHeader(rec)
	assert.Equal(t, "A", v)
	got, _ := f.store.Content(f.ref)
	assert.Equal(t, "hello", string(got))
}

func TestPutFileUnlockedNonEmptyRequiresLock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.issue(t, strPtr("alice"))

	rec := f.do(t, call{method: http.MethodPost, path: "/wopi/files/doc-1/contents", token: tok,
		headers: map[string]string{handlers.HeaderOverride: "PUT"}, body: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	v, present := lockHeader(rec)
	assert.True(t, present)
	assert.Empty(t, v)
}

func TestAccessTokenChecks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.issue(t, strPtr("alice"))

	tests := []struct {
		name  string
		path  string
		token string
	}{
		{"missing token", "/wopi/files/doc-1", ""},
		{"malformed token", "/wopi/files/doc-1", "not-a-token"},
		{"unknown token", "/wopi/files/doc-1", strings.Repeat("A", 43)},
		{"token for another file", "/wopi/files/doc-2", tok},
		{"token for another file contents", "/wopi/files/doc-2/contents", tok},
	}
	for _, tt := range tests {
		rec := f.do(t, call{method: http.MethodGet, path: tt.path, token: tt.token})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tt.name)
	}

	req := httptest.NewRequest(http.MethodGet, "/wopi/files/doc-1", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "bearer header carries the token too")

	require.NoError(t, f.tokens.Revoke(context.Background(), tok))
	rec = f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1", token: tok})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAbilitiesAreEnforcedPerOperation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.issue(t, strPtr("reader"))

	rec := f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1", token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	var info content.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.False(t, info.UserCanWrite)
	assert.True(t, info.ReadOnly)

	assert.Equal(t, http.StatusOK, f.override(t, tok, "GET_LOCK", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1/contents", token: tok}).Code)

	assert.Equal(t, http.StatusForbidden, f.override(t, tok, "LOCK", map[string]string{handlers.HeaderLock: "A"}).Code)
	assert.Equal(t, http.StatusForbidden, f.override(t, tok, "LOCK", nil).Code, "ability is checked before headers")
	assert.Equal(t, http.StatusForbidden, f.override(t, tok, "RENAME_FILE", map[string]string{handlers.HeaderRequestedName: "x"}).Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/wopi/files/doc-1/contents", token: tok,
		headers: map[string]string{handlers.HeaderOverride: "PUT"}, body: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.issue(t, strPtr("alice"))

	tests := []struct {
		name    string
		op      string
		headers map[string]string
		want    int
	}{
		{"lock without value", "LOCK", nil, http.StatusBadRequest},
		{"refresh without value", "REFRESH_LOCK", nil, http.StatusBadRequest},
		{"unlock without value", "UNLOCK", nil, http.StatusBadRequest},
		{"relock with empty old value", "LOCK", map[string]string{handlers.HeaderLock: "B", handlers.HeaderOldLock: ""}, http.StatusBadRequest},
		{"missing override", "", nil, http.StatusBadRequest},
		{"unknown override", "PUT_RELATIVE", nil, http.StatusNotImplemented},
	}
	for _, tt := range tests {
		rec := f.override(t, tok, tt.op, tt.headers)
		assert.Equal(t, tt.want, rec.Code, tt.name)
	}

	rec := f.do(t, call{method: http.MethodPost, path: "/wopi/files/doc-1/contents", token: tok, body: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := f.tokens.Resolve(context.Background(), tok)
	require.NoError(t, err)
	got, _ := f.store.Content(f.ref)
	assert.Equal(t, "hello", string(got))
}

func TestGetFileMaxExpectedSize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.issue(t, nil)

	tests := []struct {
		max  string
		want int
	}{
		{"2", http.StatusPreconditionFailed},
		{"5", http.StatusOK},
		{"1000", http.StatusOK},
		{"lots", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1/contents", token: tok,
			headers: map[string]string{handlers.HeaderMaxExpectedSize: tt.max}})
		assert.Equal(t, tt.want, rec.Code, "max %s", tt.max)
	}
	assert.Equal(t, int64(2), f.store.Reads(), "the rejected request read nothing")
}

func TestRenameFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.issue(t, strPtr("alice"))

	rec := f.override(t, tok, "RENAME_FILE", map[string]string{handlers.HeaderRequestedName: "Final"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.RenameResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Final", resp.Name)

	rec = f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1", token: tok})
	var info content.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "Final.docx", info.BaseFileName)

	rec = f.override(t, tok, "RENAME_FILE", map[string]string{handlers.HeaderRequestedName: "+ZeVnLIqe-"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "日本語", resp.Name)

	for _, name := range []string{"", "a/b", "taken"} {
		rec = f.override(t, tok, "RENAME_FILE", map[string]string{handlers.HeaderRequestedName: name})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "name %q", name)
		assert.NotEmpty(t, rec.Header().Get(handlers.HeaderInvalidFileNameError), "name %q", name)
	}

	require.Equal(t, http.StatusOK, f.override(t, tok, "LOCK", map[string]string{handlers.HeaderLock: "A"}).Code)
	rec = f.override(t, tok, "RENAME_FILE", map[string]string{handlers.HeaderRequestedName: "Other", handlers.HeaderLock: "B"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	v, _ := lockHeader(rec)
	assert.Equal(t, "A", v)
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.issue(t, strPtr("alice"))
	f.store.Delete(f.ref)

	assert.Equal(t, http.StatusNotFound, f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1", token: tok}).Code)
	assert.Equal(t, http.StatusNotFound, f.override(t, tok, "LOCK", map[string]string{handlers.HeaderLock: "A"}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1/contents", token: tok}).Code)
}

// ============================================================================
// Proof verification
// ============================================================================

func encodeKey(pub *rsa.PublicKey) (string, string) {
	return base64.StdEncoding.EncodeToString(pub.N.Bytes()),
		base64.StdEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
}

func sign(t *testing.T, key *rsa.PrivateKey, tok, url string, ticks int64) string {
	t.Helper()
	digest := sha256.Sum256(proof.BuildExpectedProof(tok, url, ticks))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func TestProofVerification(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	mod, exp := encodeKey(&key.PublicKey)

	f := newFixture(t, discovery.ClientConfig{
		Name:         "office",
		DiscoveryURL: "http://office.invalid/hosting/discovery",
		ProofKeys:    discovery.ProofKeysConfig{Current: proof.KeyConfig{Modulus: mod, Exponent: exp}},
	})
	tok := f.issue(t, strPtr("alice"))
	url := publicURL + "/wopi/files/doc-1?access_token=" + tok
	now := proof.TimeToTicks(time.Now())
	stale := proof.TimeToTicks(time.Now().Add(-time.Hour))

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"valid signature", map[string]string{
			"X-WOPI-TimeStamp": strconv.FormatInt(now, 10),
			"X-WOPI-Proof":     sign(t, key, tok, url, now),
		}, http.StatusOK},
		{"unsigned", nil, http.StatusUnauthorized},
		{"wrong key", map[string]string{
			"X-WOPI-TimeStamp": strconv.FormatInt(now, 10),
			"X-WOPI-Proof":     sign(t, other, tok, url, now),
		}, http.StatusUnauthorized},
		{"signed for another url", map[string]string{
			"X-WOPI-TimeStamp": strconv.FormatInt(now, 10),
			"X-WOPI-Proof":     sign(t, key, tok, publicURL+"/wopi/files/doc-2?access_token="+tok, now),
		}, http.StatusUnauthorized},
		{"stale timestamp", map[string]string{
			"X-WOPI-TimeStamp": strconv.FormatInt(stale, 10),
			"X-WOPI-Proof":     sign(t, key, tok, url, stale),
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		rec := f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1", token: tok, headers: tt.headers})
		assert.Equal(t, tt.want, rec.Code, tt.name)
	}
}

func TestUnsignedRequestsPassWithoutKeys(t *testing.T) {
	t.Parallel()
	f := newFixture(t, discovery.ClientConfig{Name: "collabora", DiscoveryURL: "http://collabora.invalid/hosting/discovery"})
	tok := f.issue(t, strPtr("alice"))

	rec := f.do(t, call{method: http.MethodGet, path: "/wopi/files/doc-1", token: tok})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetFileStreamsWholeBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	payload := strings.Repeat("0123456789", 500_000)
	f.store.Put(f.ref, "folder", "report.docx", "alice", []byte(payload))
	tok := f.issue(t, strPtr("alice"))

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/wopi/files/doc-1/contents?access_token=" + tok)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, len(payload), len(body))
	assert.Equal(t, "2", resp.Header.Get(handlers.HeaderItemVersion))
}
