// Package blob stores rendered report artifacts in object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kiranshivaraju/scoutreport/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// Store is the object storage interface used for report artifacts.
// Put overwrites any existing object under the same key.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// New constructs the blob store named in config. For minio the bucket is
// created if it does not exist yet.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "minio":
		s, err := NewMinioStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		return NewS3Store(ctx, cfg)
	case "memory":
		return NewMemoryStore(cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q: must be one of minio, s3, memory", cfg.Backend)
	}
}
