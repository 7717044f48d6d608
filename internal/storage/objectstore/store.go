package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Store abstracts S3-compatible object storage.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

const uriScheme = "s3://"

// URI formats an object location as s3://bucket/key.
func URI(bucket, key string) string {
	return uriScheme + bucket + "/" + strings.TrimPrefix(key, "/")
}

// IsURI reports whether raw uses the s3:// scheme.
func IsURI(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), uriScheme)
}

// ParseURI splits s3://bucket/key.
func ParseURI(raw string) (bucket, key string, err error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, uriScheme) {
		return "", "", fmt.Errorf("not an s3 uri: %q", raw)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(raw, uriScheme), "/")
	if !ok || bucket == "" || strings.TrimSpace(key) == "" {
		return "", "", fmt.Errorf("s3 uri must be s3://bucket/key: %q", raw)
	}
	return bucket, key, nil
}
