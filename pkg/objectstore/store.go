// Package objectstore defines the storage abstraction the source connector
// polls: listing, delimiter-based directory discovery, and metadata lookup.
// Implementations should use SDK default credential chains and be safe for
// concurrent use; pkg/objectstore/s3 is the only implementation carried in
// this tree, but the interface is provider-agnostic.
package objectstore

import (
	"context"
	"time"
)

// Store abstracts cloud object storage listing and metadata operations.
type Store interface {
	// List returns a page of objects with the given prefix. Use
	// ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for a single object. Returns ErrNotFound if the
	// object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Close releases any resources held by the store.
	Close() error
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value. Empty string
	// lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult's opaque,
	// store-issued token. Empty string starts from the beginning. Never
	// populate this with a raw object key; use StartAfter for that.
	ContinuationToken string

	// StartAfter resumes listing from a known object key rather than an
	// opaque token: the first page returned starts with the first key that
	// sorts after this one. Used when a caller has a last-seen key but no
	// continuation token for it (for example after a count- or deadline-
	// triggered pause that didn't land on a truncated page).
	StartAfter string

	// MaxKeys limits the number of objects returned per page. Zero uses the
	// store's default (typically 1000).
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	Objects           []ObjectSummary
	ContinuationToken string
	IsTruncated       bool
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object, returned by Head.
type ObjectMeta struct {
	ObjectSummary
	ContentType string
	Metadata    map[string]string
}

// StoreType identifies a cloud storage backend.
type StoreType string

const (
	// StoreS3 represents AWS S3 or an S3-compatible endpoint.
	StoreS3 StoreType = "s3"
)

func (t StoreType) String() string { return string(t) }
