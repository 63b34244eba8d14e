package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
)

// DiskStore 本地目录存储，未配置 S3 时使用；文件由 HTTP 服务的 /files 路由对外提供
type DiskStore struct {
	urlSpace
	root string
}

var _ ObjectStore = (*DiskStore)(nil)

// NewDiskStore 创建本地存储
func NewDiskStore(root, publicURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &DiskStore{urlSpace: newURLSpace(publicURL), root: root}, nil
}

// Root 存储根目录
func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) pathOf(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(clean, "..") {
		return "", apperr.Invalid("非法对象路径: %s", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put 写入文件
func (s *DiskStore) Put(_ context.Context, path string, data []byte, _ string) (string, error) {
	full, err := s.pathOf(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, err, "创建目录失败")
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, err, "写入文件失败: "+path)
	}
	return s.urlOf(path), nil
}

// Get 读取文件
func (s *DiskStore) Get(_ context.Context, rawURL string) ([]byte, error) {
	key, err := s.keyOf(rawURL)
	if err != nil {
		return nil, err
	}
	full, err := s.pathOf(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("对象不存在: %s", key)
		}
		return nil, apperr.Wrap(apperr.CodeStorage, err, "读取文件失败: "+key)
	}
	return data, nil
}

// Delete 删除文件，非本存储链接忽略
func (s *DiskStore) Delete(_ context.Context, rawURL string) error {
	if !s.Owns(rawURL) {
		return nil
	}
	key, err := s.keyOf(rawURL)
	if err != nil {
		return err
	}
	full, err := s.pathOf(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.CodeStorage, err, "删除文件失败: "+key)
	}
	return nil
}

// Copy 复制文件
func (s *DiskStore) Copy(ctx context.Context, srcURL, destPath string) (string, error) {
	data, err := s.Get(ctx, srcURL)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, destPath, data, "")
}
