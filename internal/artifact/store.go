// Package artifact publishes export files to a blob store: a local
// directory, process memory, or an S3-compatible bucket.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// Artifact errors.
var (
	ErrExists     = errors.New("artifact already exists")
	ErrNotFound   = errors.New("artifact not found")
	ErrInvalidKey = errors.New("invalid artifact key")
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored artifact.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	Location     string            `json:"location"`
}

// Store is a create-only blob store. Put fails with ErrExists when the key
// is already taken; Get and Head fail with ErrNotFound for missing keys.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Driver() string
}

// Open selects a Store implementation from configuration. It returns a nil
// Store and no error when no driver is configured.
func Open(ctx context.Context, cfg types.ArtifactConfig) (Store, error) {
	switch cfg.Driver {
	case types.ArtifactNone:
		return nil, nil
	case types.ArtifactFilesystem:
		return NewFilesystem(cfg.Root)
	case types.ArtifactMemory:
		return NewMemory(), nil
	case types.ArtifactS3:
		return NewS3(ctx, S3Options{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
			Prefix:    cfg.Root,
		})
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrArtifactDriverUnknown, cfg.Driver)
	}
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
