// Package storage 对象存储桥接：上传工作簿与图片，返回可公开访问的永久链接
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
)

// XLSXContentType 工作簿 MIME
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrNotOwned 链接不属于当前存储后端
var ErrNotOwned = apperr.New(apperr.CodeNotOwned, "资源不属于当前存储")

// ObjectStore 对象存储接口
type ObjectStore interface {
	// Put 写入对象，返回公开链接
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	// Get 读取本存储生成的链接
	Get(ctx context.Context, rawURL string) ([]byte, error)
	// Delete 删除对象；不属于本存储的链接直接忽略
	Delete(ctx context.Context, rawURL string) error
	// Copy 复制对象到新路径；源不属于本存储时返回 ErrNotOwned
	Copy(ctx context.Context, srcURL, destPath string) (string, error)
	// Owns 链接是否属于本存储
	Owns(rawURL string) bool
}

// WorkbookPath 选品库工作簿路径
func WorkbookPath(libraryID string) string {
	return fmt.Sprintf("libraries/%s.xlsx", libraryID)
}

// ImagePath 图片路径：images/{库ID}/{行}_{列}_{图片序号}.{扩展名}
func ImagePath(libraryID string, row, col, imageID int, ext string) string {
	return fmt.Sprintf("images/%s/%d_%d_%d.%s", libraryID, row, col, imageID, ext)
}

// urlSpace 公开链接前缀与对象 key 的互相转换
type urlSpace struct {
	publicURL string
}

func newURLSpace(publicURL string) urlSpace {
	return urlSpace{publicURL: strings.TrimSuffix(strings.TrimSpace(publicURL), "/")}
}

// normalizeURL 去掉协议与结尾斜杠
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	return strings.TrimSuffix(raw, "/")
}

// Owns 判断链接前缀是否为本存储的公开地址（忽略 http/https 与结尾斜杠）
func (s urlSpace) Owns(rawURL string) bool {
	base := normalizeURL(s.publicURL)
	if base == "" {
		return false
	}
	u := normalizeURL(rawURL)
	return u == base || strings.HasPrefix(u, base+"/")
}

func (s urlSpace) keyOf(rawURL string) (string, error) {
	if !s.Owns(rawURL) {
		return "", ErrNotOwned
	}
	rest := strings.TrimPrefix(normalizeURL(rawURL), normalizeURL(s.publicURL))
	rest = strings.TrimPrefix(rest, "/")
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	key, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("invalid object url %q: %w", rawURL, err)
	}
	if key == "" {
		return "", fmt.Errorf("object url %q has no key", rawURL)
	}
	return key, nil
}

func (s urlSpace) urlOf(key string) string {
	return s.publicURL + "/" + strings.TrimPrefix(key, "/")
}

// DeleteAll 批量删除；单个对象失败只记录日志，返回失败数量
func DeleteAll(ctx context.Context, store ObjectStore, urls []string, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	failed := 0
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}

		if err := store.Delete(ctx, u); err != nil {
			failed++
			logger.Warn("删除存储对象失败", zap.String("url", u), zap.Error(err))
		}
	}
	return failed
}

// OwnedURLs 从一组文本中挑出属于本存储的链接
func OwnedURLs(store ObjectStore, values []string) []string {
	var out []string
	for _, v := range values {
		if strings.HasPrefix(strings.TrimSpace(v), "http") && store.Owns(v) {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
