package backupsink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config controls connectivity to an S3-compatible bucket.
type S3Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	CustomCreds    *credentials.Credentials
	Transport      http.RoundTripper
}

// S3Sink implements BackupSink against an S3-compatible bucket via minio-go.
type S3Sink struct {
	client *minio.Client
	cfg    S3Config
}

// NewS3Sink constructs an S3Sink from cfg.
func NewS3Sink(cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backupsink: s3 bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}

	creds := cfg.CustomCreds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("backupsink: create s3 client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &S3Sink{client: client, cfg: cfg}, nil
}

func (s *S3Sink) objectKey(name string) string {
	if s.cfg.Prefix == "" {
		return name
	}
	return s.cfg.Prefix + "/" + name
}

// Upload puts body under name in the configured bucket.
func (s *S3Sink) Upload(ctx context.Context, name string, body io.Reader, size int64) (int64, error) {
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objectKey(name), body, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return 0, fmt.Errorf("backupsink: s3 upload %q: %w", name, err)
	}
	return info.Size, nil
}

// Close is a no-op: the minio client owns no resources that need releasing.
func (s *S3Sink) Close() error { return nil }
