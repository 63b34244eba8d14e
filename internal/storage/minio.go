package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/config"
)

// MinioStore S3 兼容存储（R2 / MinIO / S3）
type MinioStore struct {
	urlSpace
	api    *minio.Client
	bucket string
	logger *zap.Logger
}

var _ ObjectStore = (*MinioStore)(nil)

// NewMinioStore 根据配置创建客户端
func NewMinioStore(cfg config.StorageConfig, logger *zap.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &MinioStore{
		urlSpace: newURLSpace(publicURL),
		api:      api,
		bucket:   cfg.Bucket,
		logger:   logger,
	}, nil
}

// Put 上传对象
func (s *MinioStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := s.api.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, err, "上传对象失败: "+path)
	}
	return s.urlOf(path), nil
}

// Get 下载对象
func (s *MinioStore) Get(ctx context.Context, rawURL string) ([]byte, error) {
	key, err := s.keyOf(rawURL)
	if err != nil {
		return nil, err
	}

	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, err, "读取对象失败: "+key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, err, "读取对象失败: "+key)
	}
	return data, nil
}

// Delete 删除对象，非本存储链接忽略
func (s *MinioStore) Delete(ctx context.Context, rawURL string) error {
	if !s.Owns(rawURL) {
		s.logger.Debug("跳过非本存储链接", zap.String("url", rawURL))
		return nil
	}
	key, err := s.keyOf(rawURL)
	if err != nil {
		return err
	}
	if err := s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apperr.Wrap(apperr.CodeStorage, err, "删除对象失败: "+key)
	}
	return nil
}

// Copy 服务端复制
func (s *MinioStore) Copy(ctx context.Context, srcURL, destPath string) (string, error) {
	srcKey, err := s.keyOf(srcURL)
	if err != nil {
		return "", err
	}

	_, err = s.api.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: destPath},
		minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey},
	)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, err, "复制对象失败: "+srcKey)
	}
	return s.urlOf(destPath), nil
}
