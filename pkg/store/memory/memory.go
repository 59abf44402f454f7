// Package memory is an in-process store.ResourceStore used by tests.
package memory

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/wopihost/pkg/store"
)

type document struct {
	namespace string
	name      string
	data      []byte
	revision  int64
	owner     string
	modTime   time.Time
}

// Store keeps documents in a map keyed by ResourceRef.Key().
type Store struct {
	mu    sync.RWMutex
	docs  map[string]*document
	reads atomic.Int64
}

var _ store.ResourceStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{docs: make(map[string]*document)}
}

// Put creates or replaces a document. namespace groups documents for
// rename collision checks (a folder, or a directory inside a mount).
func (s *Store) Put(ref store.ResourceRef, namespace, name, owner string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := int64(1)
	if d, ok := s.docs[ref.Key()]; ok {
		rev = d.revision + 1
	}
	s.docs[ref.Key()] = &document{
		namespace: namespace,
		name:      name,
		data:      bytes.Clone(data),
		revision:  rev,
		owner:     owner,
		modTime:   time.Now().UTC(),
	}
}

// Delete removes a document.
func (s *Store) Delete(ref store.ResourceRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, ref.Key())
}

// Content returns a copy of the stored bytes.
func (s *Store) Content(ref store.ResourceRef) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[ref.Key()]
	if !ok {
		return nil, false
	}
	return bytes.Clone(d.data), true
}

// Reads returns the number of successful OpenRead calls.
func (s *Store) Reads() int64 {
	return s.reads.Load()
}

func (d *document) stat() *store.FileStat {
	return &store.FileStat{
		Name:     d.name,
		Size:     int64(len(d.data)),
		Version:  strconv.FormatInt(d.revision, 10),
		MimeType: store.MimeTypeOf(d.name),
		ModTime:  d.modTime,
		Owner:    d.owner,
	}
}

// Stat implements store.ResourceStore.
func (s *Store) Stat(_ context.Context, ref store.ResourceRef) (*store.FileStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[ref.Key()]
	if !ok {
		return nil, store.NotFound("stat", ref)
	}
	return d.stat(), nil
}

// OpenRead implements store.ResourceStore.
func (s *Store) OpenRead(_ context.Context, ref store.ResourceRef) (io.ReadCloser, error) {
	s.mu.RLock()
	d, ok := s.docs[ref.Key()]
	var data []byte
	if ok {
		data = bytes.Clone(d.data)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, store.NotFound("open_read", ref)
	}
	s.reads.Add(1)
	return io.NopCloser(bytes.NewReader(data)), nil
}

// OpenWrite implements store.ResourceStore.
func (s *Store) OpenWrite(_ context.Context, ref store.ResourceRef) (store.Writer, error) {
	s.mu.RLock()
	_, ok := s.docs[ref.Key()]
	s.mu.RUnlock()
	if !ok {
		return nil, store.NotFound("open_write", ref)
	}
	return &writer{s: s, ref: ref}, nil
}

// Rename implements store.ResourceStore.
func (s *Store) Rename(_ context.Context, ref store.ResourceRef, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[ref.Key()]
	if !ok {
		return store.NotFound("rename", ref)
	}
	for key, other := range s.docs {
		if key != ref.Key() && other.namespace == d.namespace && other.name == newName {
			return store.AlreadyExists("rename", ref, newName)
		}
	}
	d.name = newName
	return nil
}

type writer struct {
	s    *Store
	ref  store.ResourceRef
	buf  bytes.Buffer
	done bool
}

func (w *writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *writer) Commit(_ context.Context) (string, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	d, ok := w.s.docs[w.ref.Key()]
	if !ok {
		return "", store.NotFound("commit", w.ref)
	}
	d.data = bytes.Clone(w.buf.Bytes())
	d.revision++
	d.modTime = time.Now().UTC()
	w.done = true
	return strconv.FormatInt(d.revision, 10), nil
}

func (w *writer) Abort() error {
	if !w.done {
		w.buf.Reset()
	}
	return nil
}
