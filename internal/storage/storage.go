// Package storage selects and builds the object-store backend named in the
// configuration.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/objectfs/objectftp/internal/config"
	"github.com/objectfs/objectftp/internal/objectstore"
	"github.com/objectfs/objectftp/internal/storage/memory"
	"github.com/objectfs/objectftp/internal/storage/s3"
	"github.com/objectfs/objectftp/internal/storage/sqlite"
	"github.com/objectfs/objectftp/internal/storage/swift"
)

// Closer releases a backend's resources.
type Closer func() error

func noop() error { return nil }

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, global config.GlobalConfig, logger *slog.Logger) (objectstore.Backend, Closer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case config.BackendMemory, "":
		endpoint := cfg.AuthURL
		if endpoint == "" {
			endpoint = "memory://local"
		}
		return memory.NewServer(nil).Backend(endpoint), noop, nil

	case config.BackendSQLite:
		b, err := sqlite.Open(ctx, sqlite.Options{Path: cfg.SQLite.Path, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	case config.BackendSwift:
		return swift.NewBackend(swift.Options{
			AuthURL:         cfg.AuthURL,
			AuthVersion:     cfg.Swift.AuthVersion,
			TenantSeparator: cfg.Swift.TenantSeparator,
			Region:          cfg.Swift.Region,
			EndpointType:    cfg.Swift.EndpointType,
			Timeout:         global.APITimeout,
			Logger:          logger,
		}), noop, nil

	case config.BackendS3:
		endpoint := cfg.S3.Endpoint
		if endpoint == "" {
			endpoint = cfg.AuthURL
		}
		return s3.NewBackend(s3.Options{
			Endpoint:     endpoint,
			Region:       cfg.S3.Region,
			UsePathStyle: cfg.S3.UsePathStyle,
			MaxRetries:   cfg.S3.MaxRetries,
			Logger:       logger,
		}), noop, nil
	}
	return nil, nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
}
