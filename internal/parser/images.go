package parser

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Image 嵌入图片
type Image struct {
	Anchor
	Seq  int // 工作表内的图片序号
	Data []byte
	Ext  string // 小写、无点，如 png / jpeg
}

// ContentType 图片 MIME 类型
func (img Image) ContentType() string {
	return ContentTypeForExt(img.Ext)
}

// ImageIndex 按锚点和行索引的图片集合
type ImageIndex struct {
	ordered  []Image
	byAnchor map[Anchor]int
	byRow    map[int][]int
}

// NewImageIndex 创建空索引
func NewImageIndex() *ImageIndex {
	return &ImageIndex{
		byAnchor: make(map[Anchor]int),
		byRow:    make(map[int][]int),
	}
}

// BuildImageIndex 按 (行, 列, 序号) 排序后折叠；同一单元格、同一行均以第一张为准
func BuildImageIndex(images []Image) *ImageIndex {
	sorted := make([]Image, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		if a.Col != b.Col {
			return a.Col < b.Col
		}
		return a.Seq < b.Seq
	})

	idx := NewImageIndex()
	for _, img := range sorted {
		idx.add(img)
	}
	return idx
}

func (x *ImageIndex) add(img Image) {
	pos := len(x.ordered)
	x.ordered = append(x.ordered, img)
	if _, ok := x.byAnchor[img.Anchor]; !ok {
		x.byAnchor[img.Anchor] = pos
	}
	x.byRow[img.Row] = append(x.byRow[img.Row], pos)
}

// Len 图片数量
func (x *ImageIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.ordered)
}

// All 全部图片（已排序）
func (x *ImageIndex) All() []Image {
	if x == nil {
		return nil
	}
	return x.ordered
}

// At 精确锚点图片
func (x *ImageIndex) At(a Anchor) (Image, bool) {
	if x == nil {
		return Image{}, false
	}
	pos, ok := x.byAnchor[a]
	if !ok {
		return Image{}, false
	}
	return x.ordered[pos], true
}

// FirstInRow 该行第一张图片
func (x *ImageIndex) FirstInRow(row int) (Image, bool) {
	if x == nil {
		return Image{}, false
	}
	list := x.byRow[row]
	if len(list) == 0 {
		return Image{}, false
	}
	return x.ordered[list[0]], true
}

// DroppedInRow 同行被忽略的图片数量
func (x *ImageIndex) DroppedInRow(row int) int {
	if x == nil || len(x.byRow[row]) == 0 {
		return 0
	}
	return len(x.byRow[row]) - 1
}

// ReadImages 读取当前工作表中所有嵌入图片，单张失败跳过
func (w *Workbook) ReadImages() *ImageIndex {
	cells, err := w.file.GetPictureCells(w.sheet)
	if err != nil {
		w.logger.Warn("读取图片位置失败", zap.String("sheet", w.sheet), zap.Error(err))
		return NewImageIndex()
	}

	anchors := make([]Anchor, 0, len(cells))
	names := make(map[Anchor]string, len(cells))
	for _, cell := range cells {
		a, err := AnchorFromCell(cell)
		if err != nil {
			w.logger.Warn("图片锚点无效", zap.String("cell", cell), zap.Error(err))
			continue
		}
		if _, dup := names[a]; dup {
			continue
		}
		names[a] = cell
		anchors = append(anchors, a)
	}
	sort.Slice(anchors, func(i, j int) bool {
		if anchors[i].Row != anchors[j].Row {
			return anchors[i].Row < anchors[j].Row
		}
		return anchors[i].Col < anchors[j].Col
	})

	var images []Image
	seq := 0
	for _, a := range anchors {
		cell := names[a]
		pics, err := w.file.GetPictures(w.sheet, cell)
		if err != nil {
			w.logger.Warn("提取图片失败", zap.String("cell", cell), zap.Error(err))
			continue
		}
		for _, pic := range pics {
			if len(pic.File) == 0 {
				continue
			}
			images = append(images, Image{
				Anchor: a,
				Seq:    seq,
				Data:   pic.File,
				Ext:    NormalizeExt(pic.Extension),
			})
			seq++
		}
	}

	idx := BuildImageIndex(images)
	for row, list := range idx.byRow {
		if len(list) > 1 {
			w.logger.Debug("同一行存在多张图片，仅保留第一张",
				zap.Int("row", ExcelRowForAnchorRow(row)),
				zap.Int("count", len(list)))
		}
	}
	return idx
}

// NormalizeExt ".JPG" -> "jpeg"
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	switch ext {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	case "":
		return "png"
	}
	return ext
}

// FileExt 用于对象路径的扩展名
func FileExt(ext string) string {
	ext = NormalizeExt(ext)
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}

// ContentTypeForExt 扩展名 -> MIME
func ContentTypeForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	case "svg":
		return "image/svg+xml"
	case "emf":
		return "image/x-emf"
	case "wmf":
		return "image/x-wmf"
	default:
		return "application/octet-stream"
	}
}
