// Package imagestore persists detection snapshots to MinIO blob storage and
// hands back the URL each upload resolves to.
package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Persisted detection snapshots use a lighter JPEG quality than email
// digests.
const SnapshotJPEGQuality = 80

// UploadError wraps a failed snapshot upload.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload %s: %v", e.Key, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// Config contains MinIO connection settings for the snapshot bucket.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string

	ConnectTimeout time.Duration
}

// Store uploads detection snapshots.
type Store struct {
	client *minio.Client
	bucket string
	useSSL bool
	host   string
	logger *zap.Logger
}

// New connects to MinIO and ensures the snapshot bucket exists.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &Store{
		client: client,
		bucket: cfg.Bucket,
		useSSL: cfg.UseSSL,
		host:   cfg.Endpoint,
		logger: logger.Named("image-store"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		store.logger.Info("created snapshot bucket", zap.String("bucket", cfg.Bucket))
	}

	return store, nil
}

// UploadJPEG stores already-encoded JPEG bytes under key and returns the
// object's URL.
func (s *Store) UploadJPEG(ctx context.Context, key string, data []byte) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", &UploadError{Key: key, Err: err}
	}

	s.logger.Debug("snapshot uploaded",
		zap.String("key", key),
		zap.Int64("size", info.Size))
	return s.objectURL(key), nil
}

func (s *Store) objectURL(key string) string {
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.host, s.bucket, key)
}

// EncodeJPEG renders an image at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
