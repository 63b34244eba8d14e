package parser

import (
	"regexp"
	"strings"
)

var (
	imgSrcPattern  = regexp.MustCompile(`(?i)src\s*=\s*["']([^"']+)["']`)
	httpURLPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

// NormalizeHeader 去除表头首尾空白
func NormalizeHeader(name string) string {
	return strings.TrimSpace(name)
}

// IsImageReference 单元格文本是否为图片引用（http 链接或 <img> 标签）
func IsImageReference(text string) bool {
	return strings.HasPrefix(text, "http") || strings.Contains(strings.ToLower(text), "<img")
}

// ExtractImageURL 从 <img src="..."> 或文本中提取图片链接
func ExtractImageURL(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if m := imgSrcPattern.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	if m := httpURLPattern.FindString(text); m != "" {
		return m
	}
	return ""
}

// IndexOfAny 按表头顺序返回第一个属于候选名的下标
func IndexOfAny(headers []string, candidates ...string) int {
	for i, h := range headers {
		for _, want := range candidates {
			if h == want {
				return i
			}
		}
	}
	return -1
}
