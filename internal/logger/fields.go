package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently so
// log aggregation can query across components.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Request
	// ========================================================================
	KeyRequestID = "request_id"
	KeyOperation = "operation" // WOPI operation: CHECK_FILE_INFO, LOCK, PUT, ...
	KeyClientIP  = "client_ip"
	KeyUser      = "user"
	KeyStatus    = "status"

	// ========================================================================
	// Resources
	// ========================================================================
	KeyFileID   = "file_id"
	KeyResource = "resource" // stable resource key (item:..., mount:...)
	KeyMount    = "mount"
	KeyPath     = "path"
	KeyName     = "name"
	KeyNewName  = "new_name"
	KeySize     = "size"
	KeyVersion  = "version"
	KeyBytes    = "bytes"

	// ========================================================================
	// Secrets (hashed, never raw)
	// ========================================================================
	KeyTokenHash   = "token_hash"
	KeyLockHash    = "lock_hash"
	KeyOldLockHash = "old_lock_hash"
	KeyCurrentLock = "current_lock_hash"

	// ========================================================================
	// Discovery
	// ========================================================================
	KeyClient  = "client"
	KeyURL     = "url"
	KeyEntries = "entries"

	// ========================================================================
	// Storage Backend
	// ========================================================================
	KeyStoreType = "store_type" // item, local, s3, azure
	KeyBucket    = "bucket"
	KeyContainer = "container"
	KeyKey       = "key"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
)

// fingerprint returns a short, stable SHA-256 prefix of s. The empty
// string maps to the empty string so "unlocked" stays recognizable.
func fingerprint(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}

// TokenHash returns a slog.Attr carrying the fingerprint of an access token.
func TokenHash(token string) slog.Attr {
	return slog.String(KeyTokenHash, fingerprint(token))
}

// LockHash returns a slog.Attr carrying the fingerprint of a lock value.
func LockHash(value string) slog.Attr {
	return slog.String(KeyLockHash, fingerprint(value))
}

// OldLockHash is LockHash for the X-WOPI-OldLock value.
func OldLockHash(value string) slog.Attr {
	return slog.String(KeyOldLockHash, fingerprint(value))
}

// CurrentLockHash fingerprints the lock value reported back on a conflict.
func CurrentLockHash(value string) slog.Attr {
	return slog.String(KeyCurrentLock, fingerprint(value))
}

// Fingerprint exposes the hash used by the *Hash helpers, for metrics
// labels or error messages that must not carry the raw value.
func Fingerprint(s string) string {
	return fingerprint(s)
}

// Resource returns a slog.Attr for a stable resource key.
func Resource(key string) slog.Attr {
	return slog.String(KeyResource, key)
}

// FileID returns a slog.Attr for a WOPI file id.
func FileID(id string) slog.Attr {
	return slog.String(KeyFileID, id)
}

// Mount returns a slog.Attr for a mount id.
func Mount(id string) slog.Attr {
	return slog.String(KeyMount, id)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
