package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// MinioStore implements Store against an S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *logrus.Entry
}

// MinioConfig carries the connection parameters for the object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioStore connects to the object store and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connect: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("bucket create: %w", err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logrus.WithField("component", "storage"),
	}, nil
}

// Upload copies a local file to the given object key.
func (s *MinioStore) Upload(ctx context.Context, localPath, key string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.WithFields(logrus.Fields{
		"local": localPath,
		"key":   key,
	}).Debug("Uploaded object")
	return nil
}

// Download copies an object to a local path, creating parent directories.
func (s *MinioStore) Download(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", localPath, err)
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("download %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

// ListFiles returns the object keys under a prefix.
func (s *MinioStore) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		if len(obj.Key) > 0 && obj.Key[len(obj.Key)-1] != '/' {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// ReadJSON unmarshals an object into v.
func (s *MinioStore) ReadJSON(ctx context.Context, key string, v any) error {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer func() {
		if cerr := obj.Close(); cerr != nil {
			s.logger.WithError(cerr).WithField("key", key).Warn("Failed to close object reader")
		}
	}()

	if err := json.NewDecoder(obj).Decode(v); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("read %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// WriteJSON marshals v to a temp file and uploads it, so the object is
// either absent or complete.
func (s *MinioStore) WriteJSON(ctx context.Context, key string, v any) error {
	tmp, err := os.CreateTemp("", "obj-*.json")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if rerr := os.Remove(tmpPath); rerr != nil && !os.IsNotExist(rerr) {
			s.logger.WithError(rerr).Warn("Failed to remove temp file")
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	return s.Upload(ctx, tmpPath, key)
}

// DeleteFolder removes every object under a prefix.
func (s *MinioStore) DeleteFolder(ctx context.Context, prefix string) error {
	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				s.logger.WithError(obj.Err).WithField("prefix", prefix).Error("Listing failed during delete")
				return
			}
			objects <- obj
		}
	}()

	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return fmt.Errorf("delete %s under %s: %w", rerr.ObjectName, prefix, rerr.Err)
		}
	}
	s.logger.WithField("prefix", prefix).Info("Deleted object prefix")
	return nil
}

// PresignedPutURL issues a time-limited upload URL for a key.
func (s *MinioStore) PresignedPutURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	u, err := s.client.Presign(ctx, "PUT", s.bucket, key, expiry, url.Values{
		"Content-Type": []string{contentType},
	})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return false
}
