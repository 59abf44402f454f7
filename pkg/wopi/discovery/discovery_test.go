package discovery

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/wopihost/pkg/cache/memory"
	wopierrors "github.com/marmos91/wopihost/pkg/wopi/errors"
	"github.com/marmos91/wopihost/pkg/wopi/proof"
)

const collaboraDiscovery = `<?xml version="1.0" encoding="utf-8"?>
<wopi-discovery>
  <net-zone name="external-http">
    <app name="writer">
      <action name="edit" ext="odt" urlsrc="https://editor.example.com/cool.html?"/>
      <action name="view" ext="pdf" urlsrc="https://editor.example.com/view.html?"/>
    </app>
    <app name="application/vnd.oasis.opendocument.text">
      <action name="edit" ext="" urlsrc="https://editor.example.com/mime.html?"/>
    </app>
    <app name="calc">
      <action name="edit" ext="ODS" urlsrc="https://editor.example.com/calc.html?"/>
      <action name="edit" ext="xlsx" urlsrc="https://editor.example.com/calc.html?"/>
    </app>
  </net-zone>
</wopi-discovery>`

const officeDiscovery = `<wopi-discovery>
  <net-zone name="external-https">
    <app name="Word">
      <action name="edit" ext="docx" urlsrc="https://word.example.com/edit.aspx?&lt;ui=UI_LLCC&amp;&gt;"/>
      <action name="edit" ext="odt" urlsrc="https://word.example.com/odt.aspx?"/>
    </app>
  </net-zone>
</wopi-discovery>`

type discoveryServer struct {
	*httptest.Server
	mu     sync.Mutex
	body   string
	status int
	delay  time.Duration
	hits   atomic.Int64
}

func newDiscoveryServer(t *testing.T, body string) *discoveryServer {
	t.Helper()
	s := &discoveryServer{body: body, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		body, status, delay := s.body, s.status, s.delay
		s.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *discoveryServer) set(body string, status int) {
	s.mu.Lock()
	s.body, s.status = body, status
	s.mu.Unlock()
}

func newTestResolver(t *testing.T, cfg Config, clients ...ClientConfig) *Resolver {
	t.Helper()
	c, err := memory.New(16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	r, err := New(cfg, clients, c)
	require.NoError(t, err)
	return r
}

func TestRefresh_BuildsSnapshot(t *testing.T) {
	t.Parallel()
	srv := newDiscoveryServer(t, collaboraDiscovery)
	r := newTestResolver(t, Config{}, ClientConfig{Name: "collabora", DiscoveryURL: srv.URL})

	assert.False(t, r.Ready())
	require.NoError(t, r.Refresh(context.Background()))
	require.True(t, r.Ready())

	snap := r.Snapshot()
	assert.Equal(t, map[string]string{
		"odt":  "https://editor.example.com/cool.html?",
		"ods":  "https://editor.example.com/calc.html?",
		"xlsx": "https://editor.example.com/calc.html?",
	}, snap.Extensions)
	assert.Equal(t, map[string]string{
		"application/vnd.oasis.opendocument.text": "https://editor.example.com/mime.html?",
	}, snap.Mimetypes)

	tmpl, ok := r.ResolveLaunchTemplate("application/vnd.oasis.opendocument.text", "odt")
	require.True(t, ok)
	assert.Equal(t, "https://editor.example.com/cool.html?", tmpl, "extension wins over mimetype")

	tmpl, ok = r.ResolveLaunchTemplate("application/vnd.oasis.opendocument.text", "")
	require.True(t, ok)
	assert.Equal(t, "https://editor.example.com/mime.html?", tmpl)

	_, ok = r.ResolveLaunchTemplate("image/png", "png")
	assert.False(t, ok)
}

func TestRefresh_Exclusions(t *testing.T) {
	t.Parallel()
	srv := newDiscoveryServer(t, collaboraDiscovery)
	r := newTestResolver(t, Config{}, ClientConfig{
		Name:         "collabora",
		DiscoveryURL: srv.URL,
		Exclusions:   []string{".ODS", "application/vnd.oasis.opendocument.text"},
	})

	require.NoError(t, r.Refresh(context.Background()))
	snap := r.Snapshot()
	assert.NotContains(t, snap.Extensions, "ods")
	assert.Contains(t, snap.Extensions, "odt")
	assert.Empty(t, snap.Mimetypes)
}

func TestRefresh_AggregatesClientsFirstWins(t *testing.T) {
	t.Parallel()
	a := newDiscoveryServer(t, collaboraDiscovery)
	b := newDiscoveryServer(t, officeDiscovery)
	r := newTestResolver(t, Config{},
		ClientConfig{Name: "collabora", DiscoveryURL: a.URL},
		ClientConfig{Name: "office", DiscoveryURL: b.URL},
	)

	require.NoError(t, r.Refresh(context.Background()))
	snap := r.Snapshot()
	assert.Equal(t, "https://editor.example.com/cool.html?", snap.Extensions["odt"])
	assert.Equal(t, "https://word.example.com/edit.aspx?<ui=UI_LLCC&>", snap.Extensions["docx"])
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	failures := []struct {
		name   string
		body   string
		status int
	}{
		{"ServerError", collaboraDiscovery, http.StatusInternalServerError},
		{"NotFound", "", http.StatusNotFound},
		{"MissingNetZone", `<wopi-discovery></wopi-discovery>`, http.StatusOK},
		{"MalformedXML", `<wopi-discovery><net-zone>`, http.StatusOK},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			good := newDiscoveryServer(t, collaboraDiscovery)
			flaky := newDiscoveryServer(t, officeDiscovery)
			r := newTestResolver(t, Config{},
				ClientConfig{Name: "collabora", DiscoveryURL: good.URL},
				ClientConfig{Name: "office", DiscoveryURL: flaky.URL},
			)
			require.NoError(t, r.Refresh(context.Background()))
			before := r.Snapshot()

			good.set(`<wopi-discovery><net-zone><app name="writer"><action name="edit" ext="rtf" urlsrc="https://x/"/></app></net-zone></wopi-discovery>`, http.StatusOK)
			flaky.set(tt.body, tt.status)

			err := r.Refresh(context.Background())
			require.Error(t, err)
			assert.True(t, wopierrors.IsCode(err, wopierrors.ErrDiscoveryFailed))
			assert.Same(t, before, r.Snapshot(), "failed run must not replace the snapshot")
			assert.NotContains(t, r.Snapshot().Extensions, "rtf")
		})
	}
}

func TestRefresh_Timeout(t *testing.T) {
	t.Parallel()
	srv := newDiscoveryServer(t, collaboraDiscovery)
	srv.mu.Lock()
	srv.delay = time.Second
	srv.mu.Unlock()
	r := newTestResolver(t, Config{Timeout: 50 * time.Millisecond}, ClientConfig{Name: "slow", DiscoveryURL: srv.URL})

	err := r.Refresh(context.Background())
	assert.True(t, wopierrors.IsCode(err, wopierrors.ErrDiscoveryFailed))
	assert.False(t, r.Ready())
}

func TestRefresh_PersistsAndReloads(t *testing.T) {
	t.Parallel()
	c, err := memory.New(16)
	require.NoError(t, err)
	defer c.Close()
	srv := newDiscoveryServer(t, collaboraDiscovery)
	clients := []ClientConfig{{Name: "collabora", DiscoveryURL: srv.URL}}

	first, err := New(Config{}, clients, c)
	require.NoError(t, err)
	require.NoError(t, first.Refresh(context.Background()))

	second, err := New(Config{}, clients, c)
	require.NoError(t, err)
	loaded, err := second.LoadCached(context.Background())
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, first.Snapshot().Extensions, second.Snapshot().Extensions)

	loaded, err = second.LoadCached(context.Background())
	require.NoError(t, err)
	assert.False(t, loaded, "a live snapshot is never overwritten by the cache")
}

func encodeKey(pub *rsa.PublicKey) (string, string) {
	return base64.StdEncoding.EncodeToString(pub.N.Bytes()),
		base64.StdEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
}

func TestRefresh_ProofKeysFromDiscovery(t *testing.T) {
	t.Parallel()
	cur, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	old, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	mod, exp := encodeKey(&cur.PublicKey)
	oldMod, oldExp := encodeKey(&old.PublicKey)

	body := fmt.Sprintf(`<wopi-discovery>
  <net-zone name="external-http">
    <app name="writer"><action name="edit" ext="odt" urlsrc="https://e/"/></app>
  </net-zone>
  <proof-key value="opaque" oldvalue="opaque" modulus="%s" exponent="%s" oldmodulus="%s" oldexponent="%s"/>
</wopi-discovery>`, mod, exp, oldMod, oldExp)
	srv := newDiscoveryServer(t, body)
	r := newTestResolver(t, Config{}, ClientConfig{Name: "collabora", DiscoveryURL: srv.URL})

	assert.Empty(t, r.KeySets())
	require.NoError(t, r.Refresh(context.Background()))

	ks, ok := r.KeySets()["collabora"]
	require.True(t, ok)
	assert.True(t, ks.Current.Equal(&cur.PublicKey))
	assert.True(t, ks.Previous.Equal(&old.PublicKey))
}

func TestRefresh_BadProofKeyFailsRun(t *testing.T) {
	t.Parallel()
	body := `<wopi-discovery><net-zone><app name="w"><action name="edit" ext="odt" urlsrc="https://e/"/></app></net-zone>
<proof-key modulus="!!" exponent="AQAB"/></wopi-discovery>`
	srv := newDiscoveryServer(t, body)
	r := newTestResolver(t, Config{}, ClientConfig{Name: "collabora", DiscoveryURL: srv.URL})

	err := r.Refresh(context.Background())
	assert.True(t, wopierrors.IsCode(err, wopierrors.ErrDiscoveryFailed))
	assert.False(t, r.Ready())
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	mod, exp := encodeKey(&key.PublicKey)

	_, err = New(Config{Schedule: "not a schedule"}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{}, []ClientConfig{{Name: "a"}}, nil)
	assert.Error(t, err)

	dup := ClientConfig{Name: "a", DiscoveryURL: "http://x"}
	_, err = New(Config{}, []ClientConfig{dup, dup}, nil)
	assert.Error(t, err)

	_, err = New(Config{}, []ClientConfig{{Name: "a", DiscoveryURL: "http://x",
		ProofKeys: ProofKeysConfig{Current: proof.KeyConfig{PEM: "garbage"}}}}, nil)
	assert.ErrorIs(t, err, proof.ErrInvalidKey)

	_, err = New(Config{}, []ClientConfig{{Name: "a", DiscoveryURL: "http://x",
		ProofKeys: ProofKeysConfig{Previous: proof.KeyConfig{Modulus: mod, Exponent: exp}}}}, nil)
	assert.Error(t, err)

	r, err := New(Config{}, []ClientConfig{{Name: "a", DiscoveryURL: "http://x",
		ProofKeys: ProofKeysConfig{Current: proof.KeyConfig{Modulus: mod, Exponent: exp}}}}, nil)
	require.NoError(t, err)
	assert.Contains(t, r.KeySets(), "a", "static keys are available before the first refresh")
}

func TestStaticProofKeysWinOverDiscovery(t *testing.T) {
	t.Parallel()
	static, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	published, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	sMod, sExp := encodeKey(&static.PublicKey)
	pMod, pExp := encodeKey(&published.PublicKey)

	body := fmt.Sprintf(`<wopi-discovery><net-zone><app name="w"><action name="edit" ext="odt" urlsrc="https://e/"/></app></net-zone>
<proof-key modulus="%s" exponent="%s"/></wopi-discovery>`, pMod, pExp)
	srv := newDiscoveryServer(t, body)
	r := newTestResolver(t, Config{}, ClientConfig{
		Name: "collabora", DiscoveryURL: srv.URL,
		ProofKeys: ProofKeysConfig{Current: proof.KeyConfig{Modulus: sMod, Exponent: sExp}},
	})

	require.NoError(t, r.Refresh(context.Background()))
	assert.True(t, r.KeySets()["collabora"].Current.Equal(&static.PublicKey))
}

func TestStartRunsInitialRefresh(t *testing.T) {
	t.Parallel()
	srv := newDiscoveryServer(t, collaboraDiscovery)
	r := newTestResolver(t, Config{Schedule: "@every 1h"}, ClientConfig{Name: "collabora", DiscoveryURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.Eventually(t, r.Ready, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), srv.hits.Load())

	r.Stop()
	r.Stop()
}

func TestSnapshotLookup_NilSafe(t *testing.T) {
	t.Parallel()
	var s *Snapshot
	_, ok := s.Lookup("a", "b")
	assert.False(t, ok)
	assert.True(t, s.Empty())

	s = &Snapshot{Extensions: map[string]string{"docx": "u"}}
	tmpl, ok := s.Lookup("", ".DOCX")
	assert.True(t, ok)
	assert.Equal(t, "u", tmpl)
}

func TestComputeLaunchURL(t *testing.T) {
	t.Parallel()

	src := "https://host.example.com/wopi/files/abc"
	escaped := "https%3A%2F%2Fhost.example.com%2Fwopi%2Ffiles%2Fabc"

	tests := []struct {
		name     string
		template string
		lang     string
		want     string
	}{
		{
			name:     "TrailingQuestionMark",
			template: "https://editor/cool.html?",
			want:     "https://editor/cool.html?WOPISrc=" + escaped + "&closebutton=false",
		},
		{
			name:     "NoQuery",
			template: "https://editor/cool.html",
			want:     "https://editor/cool.html?WOPISrc=" + escaped + "&closebutton=false",
		},
		{
			name:     "ExistingQueryTrailingAmp",
			template: "https://editor/cool.html?a=1&",
			lang:     "de-DE",
			want:     "https://editor/cool.html?a=1&WOPISrc=" + escaped + "&closebutton=false&lang=de-DE",
		},
		{
			name:     "LanguagePlaceholders",
			template: "https://word/edit.aspx?<ui=UI_LLCC&><rs=DC_LLCC&><dchat=DISABLE_CHAT&>",
			lang:     "en-US",
			want:     "https://word/edit.aspx?ui=en-US&rs=en-US&dchat=1&WOPISrc=" + escaped + "&closebutton=false&lang=en-US",
		},
		{
			name:     "LanguagePlaceholdersWithoutLang",
			template: "https://word/edit.aspx?<ui=UI_LLCC&><dchat=DISABLE_CHAT&>",
			want:     "https://word/edit.aspx?dchat=1&WOPISrc=" + escaped + "&closebutton=false",
		},
		{
			name:     "UnknownPlaceholdersRemoved",
			template: "https://word/edit.aspx?<hid=HOST_SESSION_ID&><e=EMBEDDED&><sc=SESSION_CONTEXT&>",
			want:     "https://word/edit.aspx?e=true&WOPISrc=" + escaped + "&closebutton=false",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ComputeLaunchURL(tt.template, src, tt.lang))
		})
	}
}

func TestProofRequired(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	mod, exp := encodeKey(&key.PublicKey)
	keyed := ClientConfig{Name: "keyed", DiscoveryURL: "http://x",
		ProofKeys: ProofKeysConfig{Current: proof.KeyConfig{Modulus: mod, Exponent: exp}}}
	bare := ClientConfig{Name: "bare", DiscoveryURL: "http://y"}

	assert.False(t, newTestResolver(t, Config{}).ProofRequired())
	assert.False(t, newTestResolver(t, Config{}, bare).ProofRequired())
	assert.False(t, newTestResolver(t, Config{}, keyed, bare).ProofRequired())
	assert.True(t, newTestResolver(t, Config{}, keyed).ProofRequired())

	assert.Equal(t, []string{"keyed", "bare"}, newTestResolver(t, Config{}, keyed, bare).Clients())
}
