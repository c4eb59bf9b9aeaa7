// Package storage stores artifact blobs out-of-band. The database keeps
// only the metadata row; the blob itself lives behind one of these
// backends, addressed by key.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/refluxhq/reflux/internal/cmn/config"
)

// Backend names recorded on artifact rows.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// PutResult describes a stored blob.
type PutResult struct {
	ETag string
	Size int64
}

// Storage is the blob store the artifact endpoints and the retention
// service run against.
type Storage interface {
	// Put stores the blob under key, overwriting any previous content.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*PutResult, error)
	// Get opens the blob stored under key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting a missing key is not an error;
	// retention retries leave orphans behind otherwise.
	Delete(ctx context.Context, key string) error
	// Backend returns the backend name recorded on artifact rows.
	Backend() string
}

// New builds the storage backend selected by the configuration.
func New(cfg config.Artifacts) (Storage, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		return NewLocal(cfg.Dir)
	case BackendS3:
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}
