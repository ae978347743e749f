package table

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds S3-compatible object store connection settings.
type S3Config struct {
	Endpoint        string // e.g. "minio:9000" or "s3.amazonaws.com"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

// S3Storage serves tables from a bucket. Locations are key prefixes.
type S3Storage struct {
	mc     *minio.Client
	bucket string
}

// NewS3Storage creates an S3 storage client for cfg.Bucket.
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage: endpoint and bucket are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &S3Storage{mc: mc, bucket: cfg.Bucket}, nil
}

func (s *S3Storage) List(ctx context.Context, location string) ([]Object, error) {
	prefix := s3Prefix(location)
	ch := s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})

	var objects []Object
	for obj := range ch {
		if obj.Err != nil {
			if minio.ToErrorResponse(obj.Err).Code == "NoSuchBucket" {
				return nil, fmt.Errorf("bucket %s: %w", s.bucket, fs.ErrNotExist)
			}
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, obj.Err)
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") || hasHiddenSegment(rel) {
			continue
		}
		objects = append(objects, Object{Key: obj.Key, Path: rel, Size: obj.Size})
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, prefix, fs.ErrNotExist)
	}
	return objects, nil
}

func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	return obj, nil
}

func s3Prefix(location string) string {
	p := strings.TrimPrefix(path.Clean("/"+location), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func hasHiddenSegment(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if isHidden(seg) {
			return true
		}
	}
	return false
}
