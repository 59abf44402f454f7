package discovery

import (
	"strings"
	"time"
)

// Snapshot maps document types to editor launch templates. A snapshot is
// built from scratch by one refresh run and never modified afterwards.
type Snapshot struct {
	Mimetypes   map[string]string `json:"mimetypes"`
	Extensions  map[string]string `json:"extensions"`
	RefreshedAt time.Time         `json:"refreshed_at"`
}

func newSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Mimetypes:   make(map[string]string),
		Extensions:  make(map[string]string),
		RefreshedAt: now,
	}
}

// Empty reports whether the snapshot has no entries.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Mimetypes) == 0 && len(s.Extensions) == 0)
}

// Lookup returns the template for a document. The extension match wins
// over the mimetype match.
func (s *Snapshot) Lookup(mimetype, ext string) (string, bool) {
	if s == nil {
		return "", false
	}
	if ext = normalizeExt(ext); ext != "" {
		if tmpl, ok := s.Extensions[ext]; ok {
			return tmpl, true
		}
	}
	if mimetype != "" {
		if tmpl, ok := s.Mimetypes[mimetype]; ok {
			return tmpl, true
		}
	}
	return "", false
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
