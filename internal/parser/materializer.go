package parser

import (
	"github.com/Ganzhe0906/ty-productselect/internal/model"
)

// ImageRefs 锚点图片 -> 可访问链接
type ImageRefs struct {
	byAnchor   map[Anchor]string
	firstInRow map[int]string
}

// NewImageRefs 按图片索引顺序构建链接表；urlFor 返回空串表示该图不可用
func NewImageRefs(idx *ImageIndex, urlFor func(Image) string) *ImageRefs {
	refs := &ImageRefs{
		byAnchor:   make(map[Anchor]string),
		firstInRow: make(map[int]string),
	}
	for _, img := range idx.All() {
		url := urlFor(img)
		if url == "" {
			continue
		}
		if _, ok := refs.byAnchor[img.Anchor]; !ok {
			refs.byAnchor[img.Anchor] = url
		}
		if _, ok := refs.firstInRow[img.Row]; !ok {
			refs.firstInRow[img.Row] = url
		}
	}
	return refs
}

// At 精确锚点
func (r *ImageRefs) At(a Anchor) string {
	if r == nil {
		return ""
	}
	return r.byAnchor[a]
}

// FirstInRow 该行第一张可用图片
func (r *ImageRefs) FirstInRow(row int) string {
	if r == nil {
		return ""
	}
	return r.firstInRow[row]
}

// Len 可用图片数
func (r *ImageRefs) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byAnchor)
}

// Materialize 将表格和图片链接组合为商品列表，每个数据行产出一个商品
func Materialize(t *Table, refs *ImageRefs) []*model.Product {
	imageCols := DetectImageColumns(t.Headers)
	isImageCol := make(map[int]bool, len(imageCols))
	for _, c := range imageCols {
		isImageCol[c] = true
	}

	products := make([]*model.Product, 0, len(t.Rows))
	for i, row := range t.Rows {
		products = append(products, materializeRow(t.Headers, row, i, imageCols, isImageCol, refs))
	}
	return products
}

func materializeRow(headers []string, row []model.Value, i int, imageCols []int, isImageCol map[int]bool, refs *ImageRefs) *model.Product {
	anchorRow := AnchorRowForDataRow(i)
	p := model.NewProduct(IndexForDataRow(i))

	textURL := ""
	for c, h := range headers {
		if h == "" {
			continue
		}
		v := model.String("")
		if c < len(row) {
			v = row[c]
		}

		if v.Kind() == model.KindString && IsImageReference(v.Text()) {
			if isImageCol[c] && textURL == "" {
				textURL = ExtractImageURL(v.Text())
			}
			v = model.String(" ")
		}

		p.Set(h, v)
		applyAlias(p, h, v)
	}

	mainURL := ""
	for _, c := range imageCols {
		if u := refs.At(Anchor{Row: anchorRow, Col: c}); u != "" {
			mainURL = u
			break
		}
	}
	if mainURL == "" {
		mainURL = refs.FirstInRow(anchorRow)
	}
	if mainURL == "" {
		mainURL = textURL
	}
	if mainURL != "" {
		p.Set(FieldImage, model.String(mainURL))
	}

	if v, ok := p.Get(FieldCategory); !ok || v.IsBlank() {
		if path := CategoryPath(p); path != "" {
			p.Set(FieldCategory, model.String(path))
		}
	}

	return p
}
