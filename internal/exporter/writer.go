package exporter

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/parser"
)

// 单元格占位文本
const (
	ImagePlaceholder   = " "
	ImageLoadFailed    = "图片加载失败"
	ImageMissing       = "无图片"
	DefaultSheetName   = "Sheet1"
	HeaderRowHeight    = 30
	DefaultRowHeight   = 100
	DefaultImageBox    = 120
	DefaultConcurrency = 10
	DefaultThumbWidth  = 360
	imageCellOffset    = 5
	unsetColumnWidth   = 9.140625
)

// ImageFetcher 按链接读取图片
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config 导出器参数
type Config struct {
	Concurrency       int
	RowHeight         float64
	ImageBox          int
	ThumbnailMaxWidth int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RowHeight <= 0 {
		c.RowHeight = DefaultRowHeight
	}
	if c.ImageBox <= 0 {
		c.ImageBox = DefaultImageBox
	}
	if c.ThumbnailMaxWidth <= 0 {
		c.ThumbnailMaxWidth = DefaultThumbWidth
	}
	return c
}

// Row 一行输出
type Row struct {
	Product *model.Product
	// ImageURL 覆盖商品自身的图片链接
	ImageURL string
}

// RowsFor 商品列表 -> 输出行
func RowsFor(products []*model.Product) []Row {
	rows := make([]Row, 0, len(products))
	for _, p := range products {
		if p == nil {
			continue
		}
		rows = append(rows, Row{Product: p})
	}
	return rows
}

// Options 单次导出选项
type Options struct {
	// Template 源工作簿；为空时使用平铺模式
	Template []byte
	// SheetName 输出工作表名，为空时模板模式沿用源表名
	SheetName string
	// Columns 平铺模式列定义，为空时由商品字段推导
	Columns []Column
	// ImageColumn 平铺模式主图列的字段名
	ImageColumn string
	SkipImages  bool

	Progress     func(ProgressEvent)
	ProgressFrom int
	ProgressTo   int
}

// Result 导出结果
type Result struct {
	Data     []byte
	Rows     int
	Embedded int
	Failed   int
	Missing  int
}

// Writer 工作簿写出器
type Writer struct {
	fetcher ImageFetcher
	cfg     Config
	logger  *zap.Logger
}

// NewWriter 创建写出器
func NewWriter(fetcher ImageFetcher, cfg Config, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// rowPlan 目标行与源行的对应关系，单元格和图片两遍共用
type rowPlan struct {
	row    Row
	target int // 输出 Excel 行号
	source int // 源 Excel 行号 = _index
}

func planRows(rows []Row) []rowPlan {
	plan := make([]rowPlan, len(rows))
	for i, r := range rows {
		plan[i] = rowPlan{
			row:    r,
			target: parser.TargetRowForPosition(i),
			source: r.Product.Index,
		}
	}
	return plan
}

// imageSlot 一行待嵌入的图片
type imageSlot struct {
	target int
	col    int
	url    string
	source *parser.Image
	data   []byte
	err    error
}

// sheetJob 单次写出的上下文
type sheetJob struct {
	w        *Writer
	dst      *excelize.File
	sheet    string
	plan     []rowPlan
	imageCol int

	// 模板模式
	src        *parser.Workbook
	srcImages  *parser.ImageIndex
	styleCache map[int]int

	progress *progressRange
	result   *Result
}

// Write 生成工作簿
func (w *Writer) Write(ctx context.Context, rows []Row, opts Options) (*Result, error) {
	for _, r := range rows {
		if r.Product == nil {
			return nil, apperr.Invalid("导出行缺少商品")
		}
	}

	job := &sheetJob{
		w:          w,
		dst:        excelize.NewFile(),
		plan:       planRows(rows),
		styleCache: make(map[int]int),
		progress:   newProgressRange(opts.Progress, opts.ProgressFrom, opts.ProgressTo),
		result:     &Result{Rows: len(rows)},
	}
	defer job.dst.Close()

	if len(opts.Template) > 0 {
		src, err := parser.OpenWorkbook(opts.Template, w.logger)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		job.src = src
	}

	job.sheet = opts.SheetName
	if job.sheet == "" {
		job.sheet = DefaultSheetName
		if job.src != nil {
			job.sheet = job.src.SheetName()
		}
	}
	if job.sheet != DefaultSheetName {
		if err := job.dst.SetSheetName(DefaultSheetName, job.sheet); err != nil {
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
	}

	job.progress.report(0, "正在写入表格")
	var err error
	if job.src != nil {
		err = job.writeTemplateCells()
	} else {
		err = job.writeFlatCells(rows, opts)
	}
	if err != nil {
		return nil, err
	}
	job.progress.report(30, "表格写入完成")

	if !opts.SkipImages {
		job.writeImages(ctx)
	}

	job.progress.report(98, "正在生成文件")
	buf, err := job.dst.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	job.result.Data = buf.Bytes()
	job.progress.report(100, "完成")

	w.logger.Info("工作簿导出完成",
		zap.Bool("template", job.src != nil),
		zap.Int("rows", job.result.Rows),
		zap.Int("embedded", job.result.Embedded),
		zap.Int("failed", job.result.Failed),
		zap.Int("missing", job.result.Missing))
	return job.result, nil
}

// ---- 模板模式 ----

func (j *sheetJob) writeTemplateCells() error {
	table, err := j.src.ReadTable()
	if err != nil {
		return err
	}
	width := len(table.Headers)
	lastSourceRow := len(table.Rows) + parser.HeaderRow
	j.imageCol = parser.PrimaryImageColumn(table.Headers)
	j.srcImages = j.src.ReadImages()

	srcFile := j.src.File()
	srcSheet := j.src.SheetName()

	for c := 0; c < width; c++ {
		name, err := excelize.ColumnNumberToName(c + 1)
		if err != nil {
			return err
		}
		cw, err := srcFile.GetColWidth(srcSheet, name)
		if err != nil || cw <= 0 || math.Abs(cw-unsetColumnWidth) < 1e-6 {
			cw = DefaultColumnWidth
		}
		if err := j.dst.SetColWidth(j.sheet, name, name, cw); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	headerStyle, err := j.headerStyle()
	if err != nil {
		return err
	}
	dataStyle, err := j.dataStyle()
	if err != nil {
		return err
	}

	if err := j.copyRow(parser.HeaderRow, parser.HeaderRow, width, headerStyle); err != nil {
		return err
	}
	if err := j.dst.SetRowHeight(j.sheet, parser.HeaderRow, HeaderRowHeight); err != nil {
		return err
	}

	for n, p := range j.plan {
		if p.source > parser.HeaderRow && p.source <= lastSourceRow {
			if err := j.copyRow(p.source, p.target, width, dataStyle); err != nil {
				return err
			}
		} else {
			// 源表中找不到对应行时按表头写商品字段
			if err := j.writeProductByHeaders(p, table.Headers, dataStyle); err != nil {
				return err
			}
		}
		if err := j.dst.SetRowHeight(j.sheet, p.target, j.w.cfg.RowHeight); err != nil {
			return err
		}
		j.progress.report(30*(n+1)/len(j.plan), "正在写入表格")
	}
	return nil
}

// copyRow 复制一整行的值和样式；源单元格无样式时使用 fallbackStyle
func (j *sheetJob) copyRow(srcRow, dstRow, width, fallbackStyle int) error {
	srcFile := j.src.File()
	srcSheet := j.src.SheetName()
	for c := 0; c < width; c++ {
		srcCell := parser.CellName(c, srcRow)
		dstCell := parser.CellName(c, dstRow)

		v, err := j.src.CellValue(srcCell)
		if err != nil {
			return fmt.Errorf("read %s: %w", srcCell, err)
		}
		if err := setValue(j.dst, j.sheet, dstCell, v); err != nil {
			return err
		}

		styleID := fallbackStyle
		if id, err := srcFile.GetCellStyle(srcSheet, srcCell); err == nil && id != 0 {
			if mapped, err := j.copyStyle(id); err == nil {
				styleID = mapped
			} else {
				j.w.logger.Debug("复制单元格样式失败", zap.String("cell", srcCell), zap.Error(err))
			}
		}
		if err := j.dst.SetCellStyle(j.sheet, dstCell, dstCell, styleID); err != nil {
			return fmt.Errorf("set style %s: %w", dstCell, err)
		}
	}
	return nil
}

func (j *sheetJob) copyStyle(srcID int) (int, error) {
	if id, ok := j.styleCache[srcID]; ok {
		return id, nil
	}
	style, err := j.src.File().GetStyle(srcID)
	if err != nil {
		return 0, err
	}
	id, err := j.dst.NewStyle(style)
	if err != nil {
		return 0, err
	}
	j.styleCache[srcID] = id
	return id, nil
}

func (j *sheetJob) writeProductByHeaders(p rowPlan, headers []string, style int) error {
	for c, h := range headers {
		cell := parser.CellName(c, p.target)
		if h != "" {
			if v, ok := p.row.Product.Get(h); ok {
				if err := setValue(j.dst, j.sheet, cell, v); err != nil {
					return err
				}
			}
		}
		if err := j.dst.SetCellStyle(j.sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

// ---- 平铺模式 ----

func (j *sheetJob) writeFlatCells(rows []Row, opts Options) error {
	cols := opts.Columns
	if len(cols) == 0 {
		products := make([]*model.Product, len(rows))
		for i, r := range rows {
			products[i] = r.Product
		}
		cols = BuildColumns(products)
	}
	j.imageCol = imageColumnIndex(cols, opts.ImageColumn)

	headerStyle, err := j.headerStyle()
	if err != nil {
		return err
	}
	dataStyle, err := j.dataStyle()
	if err != nil {
		return err
	}

	header := make([]any, len(cols))
	for c, col := range cols {
		header[c] = col.Header
		name, err := excelize.ColumnNumberToName(c + 1)
		if err != nil {
			return err
		}
		width := col.Width
		if width <= 0 {
			width = DefaultColumnWidth
		}
		if err := j.dst.SetColWidth(j.sheet, name, name, width); err != nil {
			return err
		}
	}
	if len(cols) > 0 {
		if err := j.dst.SetSheetRow(j.sheet, "A1", &header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		last := parser.CellName(len(cols)-1, parser.HeaderRow)
		if err := j.dst.SetCellStyle(j.sheet, "A1", last, headerStyle); err != nil {
			return err
		}
	}
	if err := j.dst.SetRowHeight(j.sheet, parser.HeaderRow, HeaderRowHeight); err != nil {
		return err
	}

	for n, p := range j.plan {
		for c, col := range cols {
			v, ok := p.row.Product.Get(col.Key)
			if !ok {
				continue
			}
			if err := setValue(j.dst, j.sheet, parser.CellName(c, p.target), v); err != nil {
				return err
			}
		}
		if len(cols) > 0 {
			first := parser.CellName(0, p.target)
			last := parser.CellName(len(cols)-1, p.target)
			if err := j.dst.SetCellStyle(j.sheet, first, last, dataStyle); err != nil {
				return err
			}
		}
		if err := j.dst.SetRowHeight(j.sheet, p.target, j.w.cfg.RowHeight); err != nil {
			return err
		}
		j.progress.report(30*(n+1)/len(j.plan), "正在写入表格")
	}
	return nil
}

// ---- 图片 ----

func (j *sheetJob) writeImages(ctx context.Context) {
	slots := make([]*imageSlot, 0, len(j.plan))
	var toFetch []*imageSlot

	for _, p := range j.plan {
		slot := &imageSlot{target: p.target, col: j.imageCol}
		if img, ok := j.srcImages.FirstInRow(parser.AnchorRowForIndex(p.source)); ok {
			slot.source = &img
			slot.col = img.Col
		} else {
			slot.url = p.row.ImageURL
			if slot.url == "" {
				slot.url = parser.ImageSource(p.row.Product)
			} else {
				slot.url = parser.ExtractImageURL(slot.url)
			}
			if slot.url != "" {
				toFetch = append(toFetch, slot)
			}
		}
		slots = append(slots, slot)
	}

	j.fetchAll(ctx, toFetch)

	for n, slot := range slots {
		j.embed(slot)
		if len(slots) > 0 {
			j.progress.report(90+8*(n+1)/len(slots), "正在嵌入图片")
		}
	}
}

// fetchAll 有界并发下载，单个失败不影响其他
func (j *sheetJob) fetchAll(ctx context.Context, slots []*imageSlot) {
	if len(slots) == 0 || j.w.fetcher == nil {
		for _, s := range slots {
			s.err = fmt.Errorf("no image fetcher")
		}
		return
	}

	var (
		mu   sync.Mutex
		done int
	)
	g := new(errgroup.Group)
	g.SetLimit(j.w.cfg.Concurrency)
	for _, slot := range slots {
		slot := slot
		g.Go(func() error {
			slot.data, slot.err = j.w.fetcher.Fetch(ctx, slot.url)
			if slot.err != nil {
				j.w.logger.Warn("图片下载失败",
					zap.String("url", slot.url),
					zap.Int("row", slot.target),
					zap.Error(slot.err))
			}

			mu.Lock()
			done++
			percent := 30 + 60*done/len(slots)
			mu.Unlock()
			j.progress.report(percent, fmt.Sprintf("正在下载图片 (%d/%d)", done, len(slots)))
			return nil
		})
	}
	_ = g.Wait()
}

func (j *sheetJob) embed(slot *imageSlot) {
	cell := parser.CellName(slot.col, slot.target)

	var (
		img *preparedImage
		err error
	)
	switch {
	case slot.source != nil:
		img, err = prepareSourceImage(*slot.source, j.w.cfg.ThumbnailMaxWidth)
	case slot.url == "":
		j.result.Missing++
		j.setText(cell, ImageMissing)
		return
	case slot.err != nil:
		err = slot.err
	default:
		img, err = prepareImage(slot.data, j.w.cfg.ThumbnailMaxWidth)
	}

	if err == nil {
		scale := fitScale(img.Width, img.Height, j.w.cfg.ImageBox)
		err = j.dst.AddPictureFromBytes(j.sheet, cell, &excelize.Picture{
			Extension: img.Ext,
			File:      img.Data,
			Format: &excelize.GraphicOptions{
				ScaleX:      scale,
				ScaleY:      scale,
				OffsetX:     imageCellOffset,
				OffsetY:     imageCellOffset,
				Positioning: "oneCell",
			},
		})
	}

	if err != nil {
		j.w.logger.Warn("图片嵌入失败", zap.String("cell", cell), zap.Error(err))
		j.result.Failed++
		j.setText(cell, ImageLoadFailed)
		return
	}
	j.result.Embedded++
	j.setText(cell, ImagePlaceholder)
	if slot.col != j.imageCol {
		j.clearImageRef(slot.target)
	}
}

// clearImageRef 图片嵌在其他列时，主图列里残留的链接文本也清掉
func (j *sheetJob) clearImageRef(row int) {
	cell := parser.CellName(j.imageCol, row)
	v, err := j.dst.GetCellValue(j.sheet, cell)
	if err != nil || !parser.IsImageReference(strings.TrimSpace(v)) {
		return
	}
	j.setText(cell, ImagePlaceholder)
}

func (j *sheetJob) setText(cell, text string) {
	if err := j.dst.SetCellValue(j.sheet, cell, text); err != nil {
		j.w.logger.Debug("写入单元格失败", zap.String("cell", cell), zap.Error(err))
	}
}

// ---- 样式与取值 ----

func (j *sheetJob) headerStyle() (int, error) {
	return j.dst.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
}

func (j *sheetJob) dataStyle() (int, error) {
	return j.dst.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
}

func setValue(f *excelize.File, sheet, cell string, v model.Value) error {
	var err error
	switch v.Kind() {
	case model.KindNull:
		return nil
	case model.KindNumber:
		n, _ := v.Float()
		err = f.SetCellValue(sheet, cell, n)
	default:
		text := v.Text()
		if text == "" {
			return nil
		}
		err = f.SetCellValue(sheet, cell, text)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", cell, err)
	}
	return nil
}
