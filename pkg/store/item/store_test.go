package item

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/wopihost/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{
		Database:   DatabaseConfig{SQLite: SQLiteConfig{Path: filepath.Join(dir, "items.db")}},
		PayloadDir: filepath.Join(dir, "payload"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readAll(t *testing.T, s *Store, ref store.ResourceRef) string {
	t.Helper()
	rc, err := s.OpenRead(context.Background(), ref)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestStore_CreateAndRead(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.Create(ctx, CreateRequest{FolderID: "f1", Name: "notes.odt", Owner: "alice"}, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Len(t, it.ID, 36)
	assert.Equal(t, "1", it.Version())

	st, err := s.Stat(ctx, it.Ref())
	require.NoError(t, err)
	assert.Equal(t, "notes.odt", st.Name)
	assert.Equal(t, int64(5), st.Size)
	assert.Equal(t, "alice", st.Owner)
	assert.Equal(t, "application/vnd.oasis.opendocument.text", st.MimeType)
	assert.Equal(t, "hello", readAll(t, s, it.Ref()))

	empty, err := s.Create(ctx, CreateRequest{Name: "blank.docx"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Size)
	assert.Equal(t, "", readAll(t, s, empty.Ref()))
}

func TestStore_CreateValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateRequest{Name: ""}, nil)
	assert.Equal(t, store.ErrInvalidArgument, store.CodeOf(err))
	_, err = s.Create(ctx, CreateRequest{Name: "a/b.odt"}, nil)
	assert.Equal(t, store.ErrInvalidArgument, store.CodeOf(err))

	_, err = s.Create(ctx, CreateRequest{FolderID: "f", Name: "dup.odt"}, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{FolderID: "f", Name: "dup.odt"}, nil)
	assert.True(t, store.IsAlreadyExists(err))
	_, err = s.Create(ctx, CreateRequest{FolderID: "g", Name: "dup.odt"}, nil)
	assert.NoError(t, err, "same name in another folder")
}

func TestStore_WriteBumpsVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.Create(ctx, CreateRequest{Name: "a.odt"}, strings.NewReader("v1"))
	require.NoError(t, err)

	w, err := s.OpenWrite(ctx, it.Ref())
	require.NoError(t, err)
	_, err = io.Copy(w, strings.NewReader("version two"))
	require.NoError(t, err)

	assert.Equal(t, "v1", readAll(t, s, it.Ref()), "nothing visible before commit")

	v, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	assert.NoError(t, w.Abort())

	st, err := s.Stat(ctx, it.Ref())
	require.NoError(t, err)
	assert.Equal(t, "2", st.Version)
	assert.Equal(t, int64(11), st.Size)
	assert.Equal(t, "version two", readAll(t, s, it.Ref()))
}

func TestStore_Abort(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.Create(ctx, CreateRequest{Name: "a.odt"}, strings.NewReader("keep"))
	require.NoError(t, err)

	w, err := s.OpenWrite(ctx, it.Ref())
	require.NoError(t, err)
	_, err = w.Write([]byte("drop"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	st, err := s.Stat(ctx, it.Ref())
	require.NoError(t, err)
	assert.Equal(t, "1", st.Version)
	assert.Equal(t, "keep", readAll(t, s, it.Ref()))
}

func TestStore_ConcurrentCommits(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.Create(ctx, CreateRequest{Name: "a.odt"}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	versions := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := s.OpenWrite(ctx, it.Ref())
			if !assert.NoError(t, err) {
				return
			}
			_, _ = w.Write([]byte("x"))
			v, err := w.Commit(ctx)
			if assert.NoError(t, err) {
				versions <- v
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := map[string]bool{}
	for v := range versions {
		assert.False(t, seen[v], "version %s returned twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, 8)
}

func TestStore_Rename(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, CreateRequest{FolderID: "f", Name: "a.odt"}, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{FolderID: "f", Name: "b.odt"}, nil)
	require.NoError(t, err)

	err = s.Rename(ctx, a.Ref(), "b.odt")
	assert.True(t, store.IsAlreadyExists(err))

	require.NoError(t, s.Rename(ctx, a.Ref(), "c.docx"))
	st, err := s.Stat(ctx, a.Ref())
	require.NoError(t, err)
	assert.Equal(t, "c.docx", st.Name)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", st.MimeType)

	require.NoError(t, s.Rename(ctx, a.Ref(), "c.docx"), "renaming to the current name is a no-op")
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	ref := store.ItemRef("00000000-0000-0000-0000-000000000000")

	_, err := s.Stat(ctx, ref)
	assert.True(t, store.IsNotFound(err))
	_, err = s.OpenRead(ctx, ref)
	assert.True(t, store.IsNotFound(err))
	_, err = s.OpenWrite(ctx, ref)
	assert.True(t, store.IsNotFound(err))
	assert.True(t, store.IsNotFound(s.Rename(ctx, ref, "x.odt")))

	_, err = s.Stat(ctx, store.ResourceRef{Kind: store.KindMount})
	assert.Equal(t, store.ErrInvalidArgument, store.CodeOf(err))

	assert.NoError(t, s.Healthcheck(ctx))
}

func TestConfig(t *testing.T) {
	t.Parallel()

	var c Config
	c.ApplyDefaults()
	assert.Equal(t, DatabaseTypeSQLite, c.Database.Type)
	assert.NotEmpty(t, c.Database.SQLite.Path)
	assert.NotEmpty(t, c.PayloadDir)
	assert.NoError(t, c.Validate())

	pg := Config{Database: DatabaseConfig{Type: DatabaseTypePostgres}}
	pg.ApplyDefaults()
	assert.Equal(t, 5432, pg.Database.Postgres.Port)
	assert.Error(t, pg.Validate())

	pg.Database.Postgres.Host = "db"
	pg.Database.Postgres.Database = "wopi"
	pg.Database.Postgres.User = "wopi"
	assert.NoError(t, pg.Validate())
	assert.Equal(t, "host=db port=5432 user=wopi password= dbname=wopi sslmode=disable", pg.Database.Postgres.DSN())

	bad := Config{Database: DatabaseConfig{Type: "mysql"}, PayloadDir: "x"}
	assert.Error(t, bad.Validate())
}
