package objstore

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tcriess/burnbox/config"
)

type MinioStore struct {
	client *minio.Client
	bucket string
	region string
}

func NewMinioStore(cfg *config.Config) (ObjectStore, error) {
	client, err := minio.New(cfg.ObjectConfig.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ObjectConfig.AccessKey, cfg.ObjectConfig.SecretKey, ""),
		Secure: cfg.ObjectConfig.UseSSL,
		Region: cfg.ObjectConfig.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStore{
		client: client,
		bucket: cfg.ObjectConfig.Bucket,
		region: cfg.ObjectConfig.Region,
	}, nil
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	// GetObject is lazy, Stat forces the first round-trip and surfaces a
	// missing key
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrNotExist
		}
		return nil, 0, err
	}
	return obj, info.Size, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *MinioStore) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	var firstErr error
	for removeErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if removeErr.Err != nil && firstErr == nil {
			firstErr = removeErr.Err
		}
	}
	return firstErr
}

func (s *MinioStore) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return keys, info.Err
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}
