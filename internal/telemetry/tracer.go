package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrClientIP = "client.ip"

	// WOPI request attributes
	AttrWopiOperation = "wopi.operation"
	AttrWopiFileID    = "wopi.file_id"
	AttrWopiClient    = "wopi.client"
	AttrWopiStatus    = "wopi.status"
	AttrWopiVersion   = "wopi.item_version"
	AttrWopiBytes     = "wopi.bytes"

	AttrResourceKind = "resource.kind"
	AttrMountID      = "resource.mount"

	// Storage backends
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrContainer = "storage.container"
	AttrKey       = "storage.key"

	AttrCacheHit = "cache.hit"
)

// Span names.
const (
	SpanWopiRequest      = "wopi.request"
	SpanDiscoveryRefresh = "discovery.refresh"
	SpanDiscoveryFetch   = "discovery.fetch"
)

// ClientIP returns the client IP attribute.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// WopiOperation returns the override operation attribute.
func WopiOperation(op string) attribute.KeyValue {
	return attribute.String(AttrWopiOperation, op)
}

// WopiFileID returns the file id attribute.
func WopiFileID(id string) attribute.KeyValue {
	return attribute.String(AttrWopiFileID, id)
}

// WopiClient returns the discovery client name attribute.
func WopiClient(name string) attribute.KeyValue {
	return attribute.String(AttrWopiClient, name)
}

// WopiStatus returns the HTTP status attribute.
func WopiStatus(status int) attribute.KeyValue {
	return attribute.Int(AttrWopiStatus, status)
}

// WopiVersion returns the item version attribute.
func WopiVersion(v string) attribute.KeyValue {
	return attribute.String(AttrWopiVersion, v)
}

// WopiBytes returns the transferred byte count attribute.
func WopiBytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrWopiBytes, n)
}

// ResourceKind returns the resource kind attribute ("item" or "mount").
func ResourceKind(kind string) attribute.KeyValue {
	return attribute.String(AttrResourceKind, kind)
}

// MountID returns the mount id attribute.
func MountID(id string) attribute.KeyValue {
	return attribute.String(AttrMountID, id)
}

// StoreType returns the backend type attribute (local, s3, azure, item).
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Bucket returns the S3 bucket attribute.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// Container returns the Azure container attribute.
func Container(name string) attribute.KeyValue {
	return attribute.String(AttrContainer, name)
}

// StorageKey returns the object key attribute.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// CacheHit returns the cache hit attribute.
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// StartWopiSpan starts the span wrapping one WOPI operation.
func StartWopiSpan(ctx context.Context, operation, fileID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{WopiOperation(operation), WopiFileID(fileID)}, attrs...)
	return StartSpan(ctx, "wopi."+operation,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(all...))
}

// StartStoreSpan starts a span around a backing-store call.
func StartStoreSpan(ctx context.Context, storeType, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{StoreType(storeType)}, attrs...)
	return StartSpan(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(all...))
}
