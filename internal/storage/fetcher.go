package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxFetchBytes       = 64 << 20
	fetchUserAgent      = "Mozilla/5.0 (compatible; productselect/1.0)"
)

// Fetcher 读取任意链接：本存储链接直接读对象，其余走 HTTP
type Fetcher struct {
	store   ObjectStore
	client  *http.Client
	timeout time.Duration
}

// NewFetcher 创建读取器；timeout 作用于每个请求
func NewFetcher(store ObjectStore, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		store:   store,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Fetch 下载链接内容，不重试
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.store != nil && f.store.Owns(rawURL) {
		return f.store.Get(ctx, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return data, nil
}
