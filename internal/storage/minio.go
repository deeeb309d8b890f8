package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is where published exports land.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinIOStore writes objects to an S3-compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinIO connects and makes sure the bucket exists.
func NewMinIO(ctx context.Context, cfg Config, logger *slog.Logger) (*MinIOStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
		logger.Info("minio.bucket.created", "bucket", cfg.Bucket)
	}
	return &MinIOStore{client: cli, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads data under key and returns the object URL. Private buckets
// need a presigned URL to read it back.
func (s *MinIOStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Error("minio.put.failed", "bucket", s.bucket, "key", key, "error", err)
		return "", err
	}
	u := s.client.EndpointURL()
	url := fmt.Sprintf("%s://%s/%s/%s", u.Scheme, u.Host, s.bucket, key)
	s.logger.Info("minio.put.ok", "bucket", s.bucket, "key", key, "size", info.Size)
	return url, nil
}

var _ ObjectStore = (*MinIOStore)(nil)
