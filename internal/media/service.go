// Package media stores uploaded images (covers, avatars) in object storage.
package media

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"salon/api/internal/util"
)

// MaxUploadSize caps image uploads at 5 MB.
const MaxUploadSize = 5 << 20

// Config holds object storage configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicURL is the externally reachable base URL for stored objects.
	PublicURL     string
	CoversBucket  string
	AvatarsBucket string
}

// Service uploads and serves media objects via MinIO.
type Service struct {
	client *minio.Client
	config Config
}

// NewService connects to object storage and ensures the buckets exist.
func NewService(ctx context.Context, config Config) (*Service, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}

	s := &Service{client: client, config: config}

	for _, bucket := range []string{config.CoversBucket, config.AvatarsBucket} {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
			}
			log.Printf("media: created bucket %s", bucket)
		}
	}

	return s, nil
}

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// UploadCover stores a book or circle cover image and returns its public URL.
func (s *Service) UploadCover(ctx context.Context, reader io.Reader, size int64, contentType string) (string, error) {
	return s.upload(ctx, s.config.CoversBucket, reader, size, contentType)
}

// UploadAvatar stores a profile avatar image and returns its public URL.
func (s *Service) UploadAvatar(ctx context.Context, reader io.Reader, size int64, contentType string) (string, error) {
	return s.upload(ctx, s.config.AvatarsBucket, reader, size, contentType)
}

func (s *Service) upload(ctx context.Context, bucket string, reader io.Reader, size int64, contentType string) (string, error) {
	ext, ok := allowedImageTypes[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
	if size <= 0 || size > MaxUploadSize {
		return "", fmt.Errorf("image size %d outside allowed range", size)
	}

	objectName := util.NewID("img") + ext
	_, err := s.client.PutObject(ctx, bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store object: %w", err)
	}

	return s.ObjectURL(bucket, objectName), nil
}

// ObjectURL builds the public URL for a stored object.
func (s *Service) ObjectURL(bucket, objectName string) string {
	base := strings.TrimRight(s.config.PublicURL, "/")
	return base + "/" + path.Join(bucket, objectName)
}

// Delete removes an object given its public URL. Unknown URLs are ignored.
func (s *Service) Delete(ctx context.Context, publicURL string) error {
	base := strings.TrimRight(s.config.PublicURL, "/") + "/"
	rest, ok := strings.CutPrefix(publicURL, base)
	if !ok {
		return nil
	}
	bucket, objectName, ok := strings.Cut(rest, "/")
	if !ok {
		return nil
	}
	if err := s.client.RemoveObject(ctx, bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
