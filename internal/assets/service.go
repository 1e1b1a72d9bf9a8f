// Package assets stores course cover images in S3-compatible object storage.
// Uploads and downloads go straight between the browser and the bucket via
// presigned URLs; the API only mints the URLs and tracks object keys.
package assets

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"coursewright/api/internal/util"
)

const (
	uploadTTL   = 15 * time.Minute
	downloadTTL = 1 * time.Hour
)

var allowedExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// Service mints presigned URLs for cover image objects.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Service{client: client, bucket: bucket}, nil
}

// UploadTicket is a presigned PUT for a new cover image object.
type UploadTicket struct {
	Key       string    `json:"key"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCoverUpload mints a presigned upload URL for a course cover image. The
// object key embeds a fresh id so re-uploads never overwrite a previous cover
// that a merged snapshot may still reference.
func (s *Service) NewCoverUpload(ctx context.Context, courseID, filename string) (UploadTicket, error) {
	ext := strings.ToLower(path.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return UploadTicket{}, fmt.Errorf("unsupported image extension %q", ext)
	}

	key := fmt.Sprintf("covers/%s/%s%s", courseID, util.NewID("img"), ext)

	uploadURL, err := s.client.PresignedPutObject(ctx, s.bucket, key, uploadTTL)
	if err != nil {
		return UploadTicket{}, fmt.Errorf("presign upload: %w", err)
	}

	return UploadTicket{
		Key:       key,
		UploadURL: uploadURL.String(),
		ExpiresAt: time.Now().Add(uploadTTL),
	}, nil
}

// CoverURL mints a presigned download URL for a stored cover image key.
func (s *Service) CoverURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	reqParams := make(url.Values)
	downloadURL, err := s.client.PresignedGetObject(ctx, s.bucket, key, downloadTTL, reqParams)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return downloadURL.String(), nil
}

// DeleteCover removes a cover image object.
func (s *Service) DeleteCover(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}
