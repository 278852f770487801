package files

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"productos/api/internal/util"
)

// Config holds the object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Attachment describes a stored file. Key is the object name inside the
// bucket; URL is a presigned download link valid for a limited time.
type Attachment struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	URL      string `json:"url"`
}

// Service stores block attachments in S3-compatible object storage.
type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to the object store and ensures the bucket exists.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("files: connect %s: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("files: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("files: create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores the reader's content under a per-user key and returns the
// attachment with a presigned download URL.
func (s *Service) Upload(ctx context.Context, userID, fileName, contentType string, size int64, r io.Reader) (Attachment, error) {
	id := util.NewID("att")
	key := path.Join(userID, id+"_"+sanitizeFileName(fileName))

	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return Attachment{}, fmt.Errorf("files: upload %s: %w", key, err)
	}

	link, err := s.PresignedURL(ctx, key, fileName)
	if err != nil {
		return Attachment{}, err
	}

	return Attachment{
		ID:       id,
		Key:      key,
		FileName: fileName,
		FileType: contentType,
		FileSize: size,
		URL:      link,
	}, nil
}

// PresignedURL returns a time-limited download link for an object.
func (s *Service) PresignedURL(ctx context.Context, key, fileName string) (string, error) {
	params := url.Values{}
	if fileName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, 24*time.Hour, params)
	if err != nil {
		return "", fmt.Errorf("files: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Delete removes the object backing an attachment.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("files: delete %s: %w", key, err)
	}
	return nil
}

func sanitizeFileName(name string) string {
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	if name == "" || name == "." {
		name = "file"
	}
	return name
}
