// Package media resolves opaque storage keys into time-limited fetchable URLs.
package media

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// ErrNotFound means the storage key does not exist in the bucket.
	ErrNotFound = errors.New("media: object not found")
	// ErrExpired means the object exists but its retention window has lapsed.
	ErrExpired = errors.New("media: object expired")
)

// Resolver turns a storage-relative media key into a fetchable URL valid for ttl.
type Resolver interface {
	Resolve(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config holds connection settings for the media object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Storage is a MinIO-backed Resolver.
type Storage struct {
	cfg    Config
	client *minio.Client
}

// New creates a Storage connected to the configured MinIO endpoint.
func New(cfg Config) (*Storage, error) {
	cl, err := minio.New(strings.TrimPrefix(cfg.Endpoint, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Storage{cfg: cfg, client: cl}, nil
}

// EnsureBucket creates the media bucket if it does not exist yet.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Resolve checks the object exists and returns a presigned GET URL valid for ttl.
func (s *Storage) Resolve(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", ErrNotFound
	}

	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{}); err != nil {
		return "", classifyStatError(err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// classifyStatError maps object-store error codes onto the resolver taxonomy.
func classifyStatError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	case "AccessDenied", "ExpiredToken":
		return ErrExpired
	}
	return err
}
