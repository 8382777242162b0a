package objectstore

import (
	"context"
	"io"
)

// Optional store capability interfaces, used for feature detection via type
// assertion. The core Store interface stays intentionally small.

// ObjectPutter can create/overwrite objects. Used by the readiness probe's
// write-probe mode.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ObjectDeleter can delete objects, used to clean up after a write probe.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// MultipartUploader can create and abort multipart uploads, giving the
// readiness probe a low-side-effect write check when supported.
type MultipartUploader interface {
	CreateMultipartUpload(ctx context.Context, key string) (uploadID string, err error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// ObjectGetter downloads an object as a stream. This is the primitive the
// format stream reader uses to open a partition's backing object.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

