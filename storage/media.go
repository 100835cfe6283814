package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Generated videos dominate blob size; one seedance clip stays well below this.
const maxMediaBytes int64 = 512 * 1024 * 1024

const defaultURLExpiry = 15 * time.Minute

// MediaStorage persists generated images and videos in MinIO/S3 and hands
// out opaque object keys. Callers store the key and resolve a presigned URL
// on read; the bytes themselves are never inspected here.
type MediaStorage struct {
	client *minio.Client
	bucket string
}

// NewMediaStorageFromEnv initialises MediaStorage using MINIO_* environment variables.
func NewMediaStorageFromEnv() (*MediaStorage, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, errors.New("storage: MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET are required")
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MediaStorage{client: client, bucket: bucket}, nil
}

// Save uploads the buffered media bytes beneath the given path segments and
// returns the object key. The final key is media/<segments...>/<uuid>.<ext>.
func (s *MediaStorage) Save(ctx context.Context, data []byte, contentType string, pathSegments ...string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("storage: media storage not configured")
	}
	if len(data) == 0 {
		return "", errors.New("storage: no media bytes provided")
	}
	if int64(len(data)) > maxMediaBytes {
		return "", fmt.Errorf("storage: media size exceeds %d bytes", maxMediaBytes)
	}

	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	segments := []string{"media"}
	for _, segment := range pathSegments {
		trimmed := strings.Trim(segment, "/")
		if trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	objectKey := path.Join(path.Join(segments...), uuid.NewString()+extensionForContentType(contentType))

	uploadCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err := s.client.PutObject(uploadCtx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "private, max-age=604800",
	})
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	return objectKey, nil
}

// URL returns a temporary presigned URL for the given object key.
func (s *MediaStorage) URL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("storage: media storage not configured")
	}

	key := strings.TrimPrefix(strings.TrimSpace(objectKey), "/")
	if key == "" {
		return "", nil
	}

	if expiry <= 0 {
		expiry = defaultURLExpiry
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url, err := s.client.PresignedGetObject(presignCtx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", err
	}

	return url.String(), nil
}

// Remove deletes the object behind the given key. Missing keys are ignored.
func (s *MediaStorage) Remove(ctx context.Context, objectKey string) error {
	if s == nil || s.client == nil {
		return nil
	}
	key := strings.TrimPrefix(strings.TrimSpace(objectKey), "/")
	if key == "" {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.client.RemoveObject(removeCtx, s.bucket, key, minio.RemoveObjectOptions{})
}

func extensionForContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/webp":
		return ".webp"
	case "image/png", "image/x-png":
		return ".png"
	case "image/jpeg", "image/pjpeg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
