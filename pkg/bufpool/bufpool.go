// Package bufpool pools the fixed-size chunks used to stream document
// bodies between HTTP requests and the backing store.
//
// Every buffer handed out by a Pool has the same capacity, so a stream
// never holds more than one chunk of a document in memory regardless of
// the document size.
//
//	pool := bufpool.New(1 << 20)
//	n, err := pool.Copy(dst, src)
package bufpool

import (
	"io"
	"sync"
)

const (
	// DefaultChunkSize is used when New is given a non-positive size (1 MiB).
	DefaultChunkSize = 1 << 20

	// MinChunkSize is the smallest chunk New accepts (4 KiB). Smaller
	// values are rounded up.
	MinChunkSize = 4 << 10
)

// Pool hands out chunks of one size.
type Pool struct {
	size int
	pool sync.Pool
}

// New creates a pool of size-byte chunks.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if size < MinChunkSize {
		size = MinChunkSize
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, p.size)
		return &buf
	}
	return p
}

// Size returns the chunk size.
func (p *Pool) Size() int {
	return p.size
}

// Get returns a chunk. Pair every Get with a Put.
func (p *Pool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns a chunk to the pool. Slices that did not come from this
// pool are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// Copy streams src into dst one pooled chunk at a time and returns the
// number of bytes written.
//
// Unlike io.Copy it never delegates to ReaderFrom or WriterTo, so the
// chunk bound holds for every dst.
func (p *Pool) Copy(dst io.Writer, src io.Reader) (written int64, err error) {
	buf := p.Get()
	defer p.Put(buf)

	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw < 0 || nw > nr {
				nw = 0
				if werr == nil {
					werr = io.ErrShortWrite
				}
			}
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
