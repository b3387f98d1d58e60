package services

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
)

// ImageKeyPrefix is the object key prefix for uploaded item images.
const ImageKeyPrefix = "item-images/"

const presignedURLExpiry = 7 * 24 * time.Hour

type MinioService interface {
	UploadImage(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) error
	GetPresignedURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error)
	DeleteImage(ctx context.Context, bucketName, objectName string) error
	EnsureBucketExists(ctx context.Context, bucketName string) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

type minioClient struct {
	client *minio.Client
}

func NewMinioService(endpoint, accessKey, secretKey string, useSSL bool) (MinioService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &minioClient{client: client}, nil
}

func (m *minioClient) UploadImage(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := m.client.PutObject(ctx, bucketName, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (m *minioClient) GetPresignedURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (m *minioClient) DeleteImage(ctx context.Context, bucketName, objectName string) error {
	return m.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{})
}

func (m *minioClient) EnsureBucketExists(ctx context.Context, bucketName string) error {
	found, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}
	if !found {
		return m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	}
	return nil
}

func (m *minioClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return m.client.BucketExists(ctx, bucketName)
}

// BlobStore stores item images and hands back a URL to reference them by.
type BlobStore interface {
	Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, imageURL string) error
	// Check reports whether the backing bucket is reachable.
	Check(ctx context.Context) error
}

type minioBlobStore struct {
	minio         MinioService
	bucket        string
	publicBaseURL string
	now           func() time.Time
}

// NewMinioBlobStore stores images in bucket. With a publicBaseURL the
// returned URLs are publicBaseURL/<key>; otherwise they are presigned.
func NewMinioBlobStore(minio MinioService, bucket, publicBaseURL string) BlobStore {
	return &minioBlobStore{
		minio:         minio,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		now:           time.Now,
	}
}

// ImageObjectKey builds item-images/<unixnano>_<name>.
func ImageObjectKey(name string, at time.Time) string {
	base := strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return fmt.Sprintf("%s%d_%s", ImageKeyPrefix, at.UnixNano(), base)
}

func (b *minioBlobStore) Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error) {
	key := ImageObjectKey(name, b.now())
	if err := b.minio.UploadImage(ctx, b.bucket, key, reader, size, contentType); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	if b.publicBaseURL != "" {
		return b.publicBaseURL + "/" + key, nil
	}
	u, err := b.minio.GetPresignedURL(ctx, b.bucket, key, presignedURLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u, nil
}

func (b *minioBlobStore) Delete(ctx context.Context, imageURL string) error {
	key, err := objectKeyFromURL(imageURL)
	if err != nil {
		return err
	}
	return b.minio.DeleteImage(ctx, b.bucket, key)
}

func (b *minioBlobStore) Check(ctx context.Context) error {
	found, err := b.minio.BucketExists(ctx, b.bucket)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("bucket %s does not exist", b.bucket)
	}
	return nil
}

func objectKeyFromURL(imageURL string) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", fmt.Errorf("invalid image url: %w", err)
	}
	idx := strings.LastIndex(u.Path, ImageKeyPrefix)
	if idx < 0 {
		return "", fmt.Errorf("image url %q has no %s key", imageURL, ImageKeyPrefix)
	}
	return u.Path[idx:], nil
}
