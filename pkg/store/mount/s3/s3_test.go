package s3

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "wopi-test"

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket(testBucket))
	server := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(server.Close)

	cfg := Config{
		Bucket:          testBucket,
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
		KeyPrefix:       "/mounts/alpha/",
	}
	ctx := context.Background()
	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	p, err := New(ctx, client, cfg)
	require.NoError(t, err)
	return p
}

func put(t *testing.T, p *Provider, rel string, data []byte) string {
	t.Helper()
	ctx := context.Background()
	w, err := p.Create(ctx, rel)
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader(data))
	require.NoError(t, err)
	v, err := w.Commit(ctx)
	require.NoError(t, err)
	return v
}

func read(t *testing.T, p *Provider, rel string) []byte {
	t.Helper()
	rc, err := p.Open(context.Background(), rel)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestProvider_PutStatRead(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	v1 := put(t, p, "/docs/a.docx", []byte("first"))
	st, err := p.Stat(ctx, "/docs/a.docx")
	require.NoError(t, err)
	assert.Equal(t, "a.docx", st.Name)
	assert.Equal(t, int64(5), st.Size)
	assert.Equal(t, v1, st.Version)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", st.MimeType)

	v2 := put(t, p, "/docs/a.docx", []byte("again"))
	assert.NotEqual(t, v1, v2)
	st, err = p.Stat(ctx, "/docs/a.docx")
	require.NoError(t, err)
	assert.Equal(t, v2, st.Version)
	assert.Equal(t, []byte("again"), read(t, p, "/docs/a.docx"))
}

func TestProvider_Multipart(t *testing.T) {
	p := newTestProvider(t)

	data := bytes.Repeat([]byte("0123456789abcdef"), (11<<20)/16)
	v := put(t, p, "/big.bin", data)

	st, err := p.Stat(context.Background(), "/big.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), st.Size)
	assert.Equal(t, v, st.Version)
	assert.True(t, bytes.Equal(data, read(t, p, "/big.bin")))
}

func TestProvider_AbortWritesNothing(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	w, err := p.Create(ctx, "/never.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, err = p.Stat(ctx, "/never.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestProvider_Move(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	put(t, p, "/docs/draft one.odt", []byte("draft"))
	put(t, p, "/docs/taken.odt", []byte("other"))

	err := p.Move(ctx, "/docs/draft one.odt", "/docs/taken.odt")
	assert.ErrorIs(t, err, fs.ErrExist)

	require.NoError(t, p.Move(ctx, "/docs/draft one.odt", "/docs/final+1.odt"))
	assert.Equal(t, []byte("draft"), read(t, p, "/docs/final+1.odt"))
	_, err = p.Stat(ctx, "/docs/draft one.odt")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	err = p.Move(ctx, "/docs/missing.odt", "/docs/x.odt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestProvider_NotFound(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	_, err := p.Stat(ctx, "/nope.odt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = p.Open(ctx, "/nope.odt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NoError(t, p.Healthcheck(ctx))
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := NewClient(ctx, Config{Bucket: "b", AccessKeyID: "x", SecretAccessKey: "y"})
	require.NoError(t, err)
	_, err = New(ctx, client, Config{})
	assert.Error(t, err)
	_, err = New(ctx, client, Config{Bucket: "b", PartSize: 1024})
	assert.ErrorContains(t, err, "part size")
}

func TestKeyAndCopySource(t *testing.T) {
	p := &Provider{bucket: "b", prefix: "root/"}
	assert.Equal(t, "root/a/b c.odt", p.key("/a/b c.odt"))
	assert.Equal(t, "b/root/a/b%20c%2B1.odt", p.copySource("root/a/b c+1.odt"))
	assert.True(t, strings.HasPrefix(p.copySource("x"), "b/"))

	etag := `"abc"`
	assert.Equal(t, "abc", revisionOf(nil, &etag))
	assert.Equal(t, "r1", revisionOf(map[string]string{"Wopi-Revision": "r1"}, &etag))
}
