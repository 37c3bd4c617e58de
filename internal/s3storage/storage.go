package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/PixelDrop/internal/config"
)

// Storage wraps MinIO/S3 interactions for uploaded and converted images.
type Storage struct {
	client          *minio.Client
	rawBucket       string
	processedBucket string
	region          string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:          client,
		rawBucket:       cfg.RawBucket,
		processedBucket: cfg.ProcessedBucket,
		region:          cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the raw/processed buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.processedBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// UploadRaw stores an accepted source image in the raw bucket.
func (s *Storage) UploadRaw(ctx context.Context, objectKey string, data []byte, contentType string) error {
	return s.put(ctx, s.rawBucket, objectKey, data, contentType)
}

// UploadProcessed stores a converted image in the processed bucket.
func (s *Storage) UploadProcessed(ctx context.Context, objectKey string, data []byte, contentType string) error {
	return s.put(ctx, s.processedBucket, objectKey, data, contentType)
}

func (s *Storage) put(ctx context.Context, bucket, objectKey string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, bucket, objectKey, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, objectKey, err)
	}
	return nil
}

// DownloadRaw fetches the source image bytes.
func (s *Storage) DownloadRaw(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.rawBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get raw object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read raw object: %w", err)
	}
	return buf, nil
}

// PresignProcessedURL returns a signed GET URL for a converted image. The
// download name is set so browsers save it under the output file name.
func (s *Storage) PresignProcessedURL(ctx context.Context, objectKey, downloadName string, ttl time.Duration) (string, error) {
	params := url.Values{}
	if downloadName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	}
	u, err := s.client.PresignedGetObject(ctx, s.processedBucket, objectKey, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign processed object: %w", err)
	}
	return u.String(), nil
}

// RawKey is the object key of an uploaded source image.
func RawKey(batchID, jobID, name string) string {
	return fmt.Sprintf("uploads/%s/%s/%s", batchID, jobID, safeName(name))
}

// ProcessedKey is the object key of a converted image.
func ProcessedKey(batchID, jobID, outputName string) string {
	return fmt.Sprintf("converted/%s/%s/%s", batchID, jobID, safeName(outputName))
}

func safeName(name string) string {
	if name == "" {
		return "image"
	}
	return url.PathEscape(name)
}
