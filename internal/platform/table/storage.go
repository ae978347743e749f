// Package table reads partitioned resource tables (Delta tables and plain
// Hive-partitioned directories of parquet or NDJSON files) from a pluggable
// storage backend and caches one open handle per table location.
package table

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/HadaRoshan/FHIR-api/internal/config"
)

// Object is one stored file under a table location.
type Object struct {
	Key  string // backend key passed to Open
	Path string // slash-separated path relative to the table location
	Size int64
}

// Storage lists and opens the files backing resource tables. List must
// return an error matching fs.ErrNotExist when location holds no table.
type Storage interface {
	List(ctx context.Context, location string) ([]Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// NewStorage builds the backend selected by cfg.StorageBackend.
func NewStorage(cfg *config.Config) (Storage, error) {
	switch cfg.StorageBackend {
	case "local":
		return NewFSStorage(afero.NewOsFs()), nil
	case "memory":
		return NewFSStorage(afero.NewMemMapFs()), nil
	case "s3":
		return NewS3Storage(S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UseSSL:          cfg.S3UseSSL,
			Bucket:          cfg.S3Bucket,
		})
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
