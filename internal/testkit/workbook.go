// Package testkit 提供测试用的工作簿与图片构造工具
package testkit

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/xuri/excelize/v2"
)

// SheetName 测试工作簿的默认工作表
const SheetName = "Sheet1"

// PNG 生成纯色 PNG
func PNG(t testing.TB, w, h int, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// WorkbookSpec 测试工作簿描述
type WorkbookSpec struct {
	Rows   [][]any           // 第一行为表头
	Images map[string][]byte // 单元格 -> PNG 数据
	Widths map[string]float64
}

// Workbook 按描述构造 xlsx 二进制
func Workbook(t testing.TB, spec WorkbookSpec) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, row := range spec.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		r := row
		if err := f.SetSheetRow(SheetName, cell, &r); err != nil {
			t.Fatalf("set row %d: %v", i+1, err)
		}
	}
	for col, width := range spec.Widths {
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			t.Fatalf("set width %s: %v", col, err)
		}
	}
	for cell, data := range spec.Images {
		if err := f.AddPictureFromBytes(SheetName, cell, &excelize.Picture{
			Extension: ".png",
			File:      data,
			Format:    &excelize.GraphicOptions{Positioning: "oneCell"},
		}); err != nil {
			t.Fatalf("add picture %s: %v", cell, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

// Open 打开 xlsx 二进制用于断言
func Open(t testing.TB, data []byte) *excelize.File {
	t.Helper()

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}
