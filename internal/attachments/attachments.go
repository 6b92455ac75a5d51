// Package attachments hands out presigned object-storage URLs for card
// attachments. File bytes never pass through the API.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"corkboard/internal/logging"
)

// ErrDisabled is returned when no object storage is configured.
var ErrDisabled = errors.New("attachment storage not configured")

// Store presigns and removes attachment objects.
type Store interface {
	PresignUpload(ctx context.Context, objectKey, contentType string) (string, error)
	PresignDownload(ctx context.Context, objectKey, fileName string) (string, error)
	Remove(ctx context.Context, objectKey string) error
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	URLExpiry time.Duration
}

// MinioStore implements Store against any S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	logger zerolog.Logger
}

// New returns a MinioStore, or Disabled when cfg has no endpoint.
func New(cfg Config) (Store, error) {
	if cfg.Endpoint == "" {
		return Disabled{}, nil
	}
	return NewMinioStore(cfg)
}

// NewMinioStore builds a client without contacting the server.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("attachments: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 15 * time.Minute
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		expiry: cfg.URLExpiry,
		logger: logging.WithComponent("attachments"),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info().Str("bucket", s.bucket).Msg("bucket created")
	return nil
}

func (s *MinioStore) PresignUpload(ctx context.Context, objectKey, _ string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, s.expiry)
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}
	return u.String(), nil
}

func (s *MinioStore) PresignDownload(ctx context.Context, objectKey, fileName string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

func (s *MinioStore) Remove(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Disabled rejects every call with ErrDisabled.
type Disabled struct{}

func (Disabled) PresignUpload(context.Context, string, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) PresignDownload(context.Context, string, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Remove(context.Context, string) error { return nil }

// ObjectKey places an attachment under its board and card.
func ObjectKey(boardID, cardID, attachmentID, fileName string) string {
	return path.Join("boards", boardID, "cards", cardID, attachmentID+"-"+cleanFileName(fileName))
}

func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

var (
	_ Store = (*MinioStore)(nil)
	_ Store = Disabled{}
)
