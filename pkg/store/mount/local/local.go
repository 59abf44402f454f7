// Package local mounts a directory of the host filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/wopihost/pkg/store"
)

// Config configures a local mount.
type Config struct {
	// Root is the directory exposed by the mount.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`
}

// Provider serves files below a root directory.
//
// Writes land in a temporary file next to the target and are renamed
// into place on Commit. The version is derived from modification time and
// size; Commit forces the modification time forward so that two writes
// within the filesystem's timestamp granularity still differ.
type Provider struct {
	root string
}

// New returns a provider rooted at cfg.Root, which must be a directory.
func New(cfg Config) (*Provider, error) {
	if cfg.Root == "" {
		return nil, errors.New("local mount: root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("local mount: resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local mount: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local mount: %s is not a directory", root)
	}
	return &Provider{root: root}, nil
}

// Type implements mount.Provider.
func (p *Provider) Type() string { return "local" }

func (p *Provider) full(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
}

func version(info fs.FileInfo) string {
	return strconv.FormatInt(info.ModTime().UnixNano(), 36) + "-" + strconv.FormatInt(info.Size(), 36)
}

func statOf(rel string, info fs.FileInfo) *store.FileStat {
	name := path.Base(rel)
	return &store.FileStat{
		Name:     name,
		Size:     info.Size(),
		Version:  version(info),
		MimeType: store.MimeTypeOf(name),
		ModTime:  info.ModTime().UTC(),
	}
}

func (p *Provider) statFile(rel string) (fs.FileInfo, error) {
	info, err := os.Stat(p.full(rel))
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file: %w", rel, fs.ErrNotExist)
	}
	return info, nil
}

// Stat implements mount.Provider.
func (p *Provider) Stat(_ context.Context, rel string) (*store.FileStat, error) {
	info, err := p.statFile(rel)
	if err != nil {
		return nil, err
	}
	return statOf(rel, info), nil
}

// Open implements mount.Provider.
func (p *Provider) Open(_ context.Context, rel string) (io.ReadCloser, error) {
	if _, err := p.statFile(rel); err != nil {
		return nil, err
	}
	return os.Open(p.full(rel))
}

// Create implements mount.Provider.
func (p *Provider) Create(_ context.Context, rel string) (store.Writer, error) {
	target := p.full(rel)
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".wopi-*")
	if err != nil {
		return nil, err
	}
	return &writer{f: tmp, target: target}, nil
}

// Move implements mount.Provider. A hard link claims the target so an
// existing file is never replaced; filesystems without hard links fall
// back to a checked rename.
func (p *Provider) Move(_ context.Context, from, to string) error {
	src, dst := p.full(from), p.full(to)
	if _, err := p.statFile(from); err != nil {
		return err
	}
	err := os.Link(src, dst)
	switch {
	case err == nil:
		return os.Remove(src)
	case errors.Is(err, fs.ErrExist):
		return err
	}
	if _, statErr := os.Lstat(dst); statErr == nil {
		return fmt.Errorf("%s: %w", to, fs.ErrExist)
	}
	return os.Rename(src, dst)
}

// Healthcheck verifies the root is still reachable.
func (p *Provider) Healthcheck(_ context.Context) error {
	_, err := os.Stat(p.root)
	return err
}

type writer struct {
	f      *os.File
	target string
	done   bool
}

func (w *writer) Write(b []byte) (int, error) {
	return w.f.Write(b)
}

func (w *writer) Commit(_ context.Context) (string, error) {
	if w.done {
		return "", errors.New("local mount: writer already finished")
	}
	w.done = true
	tmpPath := w.f.Name()
	fail := func(err error) (string, error) {
		_ = w.f.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}

	if err := w.f.Sync(); err != nil {
		return fail(err)
	}
	if err := w.f.Close(); err != nil {
		return fail(err)
	}

	mtime := time.Now()
	prev, err := os.Stat(w.target)
	if err != nil {
		return fail(err)
	}
	if !mtime.After(prev.ModTime()) {
		mtime = prev.ModTime().Add(time.Second)
	}
	if err := os.Chmod(tmpPath, prev.Mode().Perm()); err != nil {
		return fail(err)
	}
	if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpPath, w.target); err != nil {
		return fail(err)
	}

	info, err := os.Stat(w.target)
	if err != nil {
		return "", err
	}
	if version(info) == version(prev) {
		// Timestamp granularity swallowed the bump.
		next := prev.ModTime().Add(time.Second)
		if err := os.Chtimes(w.target, next, next); err != nil {
			return "", err
		}
		if info, err = os.Stat(w.target); err != nil {
			return "", err
		}
	}
	return version(info), nil
}

func (w *writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.f.Name())
}
