package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Kind distinguishes the two backing-store families.
type Kind string

const (
	// KindItem is a document in the primary item store.
	KindItem Kind = "item"
	// KindMount is a file inside an external mount provider.
	KindMount Kind = "mount"
)

// ResourceRef is the opaque identity of a document.
//
// An item ref carries only ItemID. A mount ref carries the mount id, the
// normalized path inside the mount and a synthetic file id derived from
// both at the time the ref was created. The file id stays stable across
// renames, so locks and URLs keep working after RENAME_FILE.
type ResourceRef struct {
	Kind        Kind   `json:"kind"`
	ItemID      string `json:"item_id,omitempty"`
	MountID     string `json:"mount_id,omitempty"`
	Path        string `json:"path,omitempty"`
	MountFileID string `json:"mount_file_id,omitempty"`
}

// ItemRef returns a reference to a primary-store item.
func ItemRef(id string) ResourceRef {
	return ResourceRef{Kind: KindItem, ItemID: id}
}

// MountRef returns a reference to a file inside a mount. The path is
// normalized and a synthetic file id is derived from (mount, path).
func MountRef(mountID, p string) (ResourceRef, error) {
	if mountID == "" {
		return ResourceRef{}, errors.New("mount id is required")
	}
	np, err := NormalizePath(p)
	if err != nil {
		return ResourceRef{}, err
	}
	return ResourceRef{
		Kind:        KindMount,
		MountID:     mountID,
		Path:        np,
		MountFileID: SyntheticFileID(mountID, np),
	}, nil
}

// NormalizePath cleans a mount-relative path. The result always starts
// with "/" and never escapes the mount root.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path %q escapes the mount root", p)
		}
	}
	np := path.Clean("/" + p)
	if np == "/" {
		return "", fmt.Errorf("path %q names the mount root", p)
	}
	return np, nil
}

// SyntheticFileID derives the URL-safe file id of a mount file.
func SyntheticFileID(mountID, normalizedPath string) string {
	sum := sha256.Sum256([]byte(mountID + "\x00" + normalizedPath))
	return "m" + hex.EncodeToString(sum[:15])
}

// FileID returns the id the WOPI client sees in /wopi/files/{id}.
func (r ResourceRef) FileID() string {
	if r.Kind == KindMount {
		return r.MountFileID
	}
	return r.ItemID
}

// Key returns the stable key used for per-resource state such as locks.
func (r ResourceRef) Key() string {
	return string(r.Kind) + ":" + r.FileID()
}

// Validate checks that the ref is internally consistent.
func (r ResourceRef) Validate() error {
	switch r.Kind {
	case KindItem:
		if r.ItemID == "" {
			return errors.New("item ref without item id")
		}
	case KindMount:
		if r.MountID == "" || r.Path == "" || r.MountFileID == "" {
			return errors.New("incomplete mount ref")
		}
	default:
		return fmt.Errorf("unknown resource kind %q", r.Kind)
	}
	return nil
}

// String implements fmt.Stringer.
func (r ResourceRef) String() string {
	if r.Kind == KindMount {
		return fmt.Sprintf("mount:%s:%s", r.MountID, r.Path)
	}
	return "item:" + r.ItemID
}
