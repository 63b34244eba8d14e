package library

import (
	"sort"
	"strings"

	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/parser"
)

// firstDataIndex 第一条数据行的 _index；更小的值说明商品缺少 _index
var firstDataIndex = parser.IndexForDataRow(0)

// Intersect 返回 a 中 _index 同时出现在 b 里的商品，按 _index 升序
func Intersect(a, b []*model.Product) []*model.Product {
	inB := model.Indexes(b)
	seen := make(map[int]struct{}, len(a))
	out := make([]*model.Product, 0)
	for _, p := range a {
		if p == nil || p.Index < firstDataIndex {
			continue
		}
		if _, ok := inB[p.Index]; !ok {
			continue
		}
		if _, dup := seen[p.Index]; dup {
			continue
		}
		seen[p.Index] = struct{}{}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// IntersectIndexes 两组商品共同的 _index，升序
func IntersectIndexes(a, b []*model.Product) []int {
	products := Intersect(a, b)
	out := make([]int, len(products))
	for i, p := range products {
		out[i] = p.Index
	}
	return out
}

// LatestByCreator 某位选品人最新的一条记录
func LatestByCreator(records []*model.Library, creator string) *model.Library {
	creator = normalizeCreator(creator)
	var latest *model.Library
	for _, lib := range records {
		if normalizeCreator(lib.CreatedBy) != creator {
			continue
		}
		if latest == nil || lib.Timestamp > latest.Timestamp {
			latest = lib
		}
	}
	return latest
}

func normalizeCreator(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
