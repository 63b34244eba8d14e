package exporter

import (
	"fmt"

	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/parser"
)

// 列宽
const (
	DefaultColumnWidth  = 25
	EnrichedColumnWidth = 30
)

// TitleHeaders 可识别的标题列
var TitleHeaders = []string{"商品标题", "商品名", "title", "name"}

// Column 平铺模式列定义
type Column struct {
	Header string  `json:"header"`
	Key    string  `json:"key"`
	Width  float64 `json:"width"`
}

// BuildColumns 按首次出现顺序汇总商品字段（排除 "_" 开头的字段），
// 中文商品名 / 场景用途 紧跟标题列
func BuildColumns(products []*model.Product) []Column {
	seen := make(map[string]bool)
	var keys []string
	for _, p := range products {
		for _, k := range p.Keys() {
			if model.IsInternalKey(k) || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return ColumnsFor(keys)
}

// ColumnsFor 由字段名生成列，处理增强列的位置和宽度
func ColumnsFor(keys []string) []Column {
	keys = placeEnrichedAfterTitle(keys)

	cols := make([]Column, 0, len(keys))
	for i, k := range keys {
		header := k
		if header == "" {
			header = fmt.Sprintf("Col %d", i+1)
		}
		width := float64(DefaultColumnWidth)
		if k == parser.FieldChineseName || k == parser.FieldScenario {
			width = EnrichedColumnWidth
		}
		cols = append(cols, Column{Header: header, Key: k, Width: width})
	}
	return cols
}

func placeEnrichedAfterTitle(keys []string) []string {
	titleIdx := parser.IndexOfAny(keys, TitleHeaders...)
	if titleIdx < 0 {
		return keys
	}
	title := keys[titleIdx]

	var enriched []string
	for _, k := range []string{parser.FieldChineseName, parser.FieldScenario} {
		for _, existing := range keys {
			if existing == k {
				enriched = append(enriched, k)
				break
			}
		}
	}
	if len(enriched) == 0 {
		return keys
	}

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == parser.FieldChineseName || k == parser.FieldScenario {
			continue
		}
		out = append(out, k)
		if k == title {
			out = append(out, enriched...)
		}
	}
	return out
}

// imageColumnIndex 平铺模式的主图列：优先 key 精确匹配，其次按表头识别
func imageColumnIndex(cols []Column, key string) int {
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Key
		if key != "" && c.Key == key {
			return i
		}
	}
	if i := parser.IndexOfAny(headers, parser.FieldImage, "src"); i >= 0 {
		return i
	}
	return parser.PrimaryImageColumn(headers)
}
