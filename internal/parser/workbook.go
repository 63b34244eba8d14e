package parser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
)

// Workbook 已打开的工作簿（默认使用第一个工作表）
type Workbook struct {
	file   *excelize.File
	sheet  string
	logger *zap.Logger
}

// Table 表头 + 数据行
type Table struct {
	Headers []string
	Rows    [][]model.Value
}

// Sheet 一次完整读取的结果
type Sheet struct {
	Name string
	Table
	Images *ImageIndex
}

// OpenWorkbook 从内存打开工作簿
func OpenWorkbook(data []byte, logger *zap.Logger) (*Workbook, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(data) == 0 {
		return nil, apperr.Parse(nil, "文件为空")
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Parse(err, "无法读取 Excel 文件")
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, apperr.Parse(nil, "Excel 文件中没有工作表")
	}

	return &Workbook{file: f, sheet: sheets[0], logger: logger}, nil
}

// ReadSheet 打开并读取第一个工作表（表格 + 图片）
func ReadSheet(data []byte, logger *zap.Logger) (*Sheet, error) {
	wb, err := OpenWorkbook(data, logger)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	table, err := wb.ReadTable()
	if err != nil {
		return nil, err
	}

	return &Sheet{
		Name:   wb.SheetName(),
		Table:  *table,
		Images: wb.ReadImages(),
	}, nil
}

// File 底层 excelize 文件
func (w *Workbook) File() *excelize.File { return w.file }

// SheetName 当前工作表
func (w *Workbook) SheetName() string { return w.sheet }

// UseSheet 切换工作表
func (w *Workbook) UseSheet(name string) error {
	idx, err := w.file.GetSheetIndex(name)
	if err != nil || idx < 0 {
		return apperr.NotFound("工作表不存在: %s", name)
	}
	w.sheet = name
	return nil
}

// Close 关闭工作簿
func (w *Workbook) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// ReadTable 读取表头（第 1 行）和数据行
func (w *Workbook) ReadTable() (*Table, error) {
	rows, err := w.file.GetRows(w.sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperr.Parse(err, "读取工作表失败")
	}
	if len(rows) == 0 {
		return nil, apperr.Parse(nil, "工作表为空")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = NormalizeHeader(h)
	}

	width := len(headers)
	for _, r := range rows[1:] {
		if len(r) > width {
			width = len(r)
		}
	}
	for len(headers) < width {
		headers = append(headers, "")
	}

	data := make([][]model.Value, 0, len(rows)-1)
	for i, raw := range rows[1:] {
		excelRow := IndexForDataRow(i)
		row := make([]model.Value, width)
		for c := 0; c < width; c++ {
			if c >= len(raw) || raw[c] == "" {
				row[c] = model.String("")
				continue
			}
			row[c] = w.typedValue(CellName(c, excelRow), raw[c])
		}
		data = append(data, row)
	}

	return &Table{Headers: headers, Rows: data}, nil
}

// typedValue 数字单元格转为 Number，其余保持文本
func (w *Workbook) typedValue(cell, raw string) model.Value {
	typ, err := w.file.GetCellType(w.sheet, cell)
	if err != nil {
		return model.String(raw)
	}
	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return model.Number(f)
		}
	}
	return model.String(raw)
}

// CellValue 读取单元格原始值（带类型）
func (w *Workbook) CellValue(cell string) (model.Value, error) {
	raw, err := w.file.GetCellValue(w.sheet, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return model.Null(), err
	}
	if raw == "" {
		return model.Null(), nil
	}
	return w.typedValue(cell, raw), nil
}
