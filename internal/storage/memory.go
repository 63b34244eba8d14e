package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
)

// MemoryStore 内存对象存储
type MemoryStore struct {
	urlSpace
	objects map[string][]byte
	mu      sync.RWMutex
}

var _ ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储，publicURL 为生成链接的前缀
func NewMemoryStore(publicURL string) *MemoryStore {
	return &MemoryStore{
		urlSpace: newURLSpace(publicURL),
		objects:  make(map[string][]byte),
	}
}

// Put 写入对象
func (s *MemoryStore) Put(ctx context.Context, path string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[path] = buf
	return s.urlOf(path), nil
}

// Get 读取对象
func (s *MemoryStore) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := s.keyOf(rawURL)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, apperr.NotFound("对象不存在: %s", key)
	}
	return obj, nil
}

// Delete 删除对象，非本存储链接忽略
func (s *MemoryStore) Delete(_ context.Context, rawURL string) error {
	if !s.Owns(rawURL) {
		return nil
	}
	key, err := s.keyOf(rawURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Copy 复制对象
func (s *MemoryStore) Copy(_ context.Context, srcURL, destPath string) (string, error) {
	srcKey, err := s.keyOf(srcURL)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[srcKey]
	if !ok {
		return "", apperr.NotFound("对象不存在: %s", srcKey)
	}
	s.objects[destPath] = obj
	return s.urlOf(destPath), nil
}

// Keys 所有对象 key（排序）
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
