package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kestrelhq/kestrel/internal/config"
)

var (
	ErrNotFound      = errors.New("artifact not found")
	ErrInvalidConfig = errors.New("invalid archive configuration")
)

// Backend stores artifact payloads under string keys. Sweep removes every
// object written before the cutoff and reports how many were deleted.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// NewBackend builds the backend selected by the archive configuration,
// wrapped with compression when one is configured.
func NewBackend(ctx context.Context, cfg config.ArchiveConfig) (Backend, error) {
	var backend Backend

	switch cfg.Backend {
	case "filesystem":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: path is required for the filesystem backend", ErrInvalidConfig)
		}
		backend = NewFilesystemBackend(cfg.Path)
	case "s3":
		s3b, err := NewS3Backend(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		backend = s3b
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, cfg.Backend)
	}

	if cfg.Compression != "" {
		return NewCompressedBackend(backend, cfg.Compression), nil
	}

	return backend, nil
}
