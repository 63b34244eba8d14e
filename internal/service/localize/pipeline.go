// Package localize 本地化：为商品表补充中文商品名与场景用途，并把链接图片嵌入工作簿
package localize

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/enrich"
	"github.com/Ganzhe0906/ty-productselect/internal/exporter"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/parser"
)

// SheetName 输出工作表名
const SheetName = "Localized Products"

// DefaultBatchSize 每批送入模型的标题数
const DefaultBatchSize = 30

// OriginalImageKey 前端回传数据中原图链接的字段
const OriginalImageKey = "_original_image_url_"

// ImageHeaders 可识别的图片列，按优先级
var ImageHeaders = []string{parser.FieldImage, "src", "_original_url_"}

// Summarizer 批量总结
type Summarizer interface {
	enrich.Summarizer
	HasKey(creds enrich.Credentials) bool
}

// Event NDJSON 事件
type Event struct {
	Type     string `json:"type"` // progress/error/file
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Pipeline 本地化流水线
type Pipeline struct {
	summarizer Summarizer
	writer     *exporter.Writer
	batchSize  int
	logger     *zap.Logger
}

// NewPipeline 创建流水线；batchSize <= 0 时使用默认值
func NewPipeline(summarizer Summarizer, writer *exporter.Writer, batchSize int, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		summarizer: summarizer,
		writer:     writer,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Run 异步执行，返回事件通道；最后一个事件为 file 或 error
func (p *Pipeline) Run(ctx context.Context, data []byte, creds enrich.Credentials) <-chan Event {
	return p.stream(ctx, func(ctx context.Context, emit func(int, string)) ([]byte, error) {
		return p.localize(ctx, data, creds, emit)
	})
}

// FinalizeRequest 前端已完成总结，只需生成工作簿
type FinalizeRequest struct {
	Products    []*model.Product  `json:"data"`
	Columns     []exporter.Column `json:"finalColumns"`
	ImageColumn string            `json:"srcField"`
}

// Finalize 按给定列与数据生成工作簿，原图链接取自 _original_image_url_
func (p *Pipeline) Finalize(ctx context.Context, req FinalizeRequest) <-chan Event {
	return p.stream(ctx, func(ctx context.Context, emit func(int, string)) ([]byte, error) {
		if len(req.Products) == 0 {
			return nil, apperr.Invalid("No data provided")
		}
		emit(5, "正在开始图片下载与嵌入...")

		rows := make([]exporter.Row, 0, len(req.Products))
		for _, prod := range req.Products {
			if prod == nil {
				continue
			}
			url := prod.Text(OriginalImageKey)
			prod.Delete(OriginalImageKey)
			rows = append(rows, exporter.Row{Product: prod, ImageURL: httpURL(url)})
		}
		return p.write(ctx, rows, req.Columns, req.ImageColumn, 5, 95, emit)
	})
}

type job func(ctx context.Context, emit func(int, string)) ([]byte, error)

func (p *Pipeline) stream(ctx context.Context, run job) <-chan Event {
	events := make(chan Event, 32)
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer close(events)
		emit := func(progress int, message string) {
			select {
			case events <- Event{Type: "progress", Progress: progress, Message: message}:
			default:
				// 通道已满，丢弃进度
			}
		}

		out, err := run(ctx, emit)
		if err != nil {
			p.logger.Error("本地化失败", zap.Error(err))
			events <- Event{Type: "error", Message: apperr.Message(err)}
			return
		}

		emit(98, "正在生成最终 Excel 文件...")
		encoded := base64.StdEncoding.EncodeToString(out)
		emit(100, "处理完成，正在准备下载...")
		events <- Event{Type: "file", Data: encoded}
	}()
	return events
}

// sheetLayout 输入表的列识别结果
type sheetLayout struct {
	titleKey string
	imageKey string
	columns  []exporter.Column
	imageCol string
}

func layoutFor(headers []string) sheetLayout {
	var l sheetLayout
	if i := parser.IndexOfAny(headers, exporter.TitleHeaders...); i >= 0 {
		l.titleKey = headers[i]
	} else {
		for _, h := range headers {
			if c, ok := parser.Canonicalize(h); ok && c == parser.FieldTitle {
				l.titleKey = h
				break
			}
		}
	}
	if i := parser.IndexOfAny(headers, ImageHeaders...); i >= 0 {
		l.imageKey = headers[i]
	}

	keys := make([]string, 0, len(headers)+3)
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		if h == "" || model.IsInternalKey(h) || seen[h] {
			continue
		}
		seen[h] = true
		keys = append(keys, h)
	}
	if l.titleKey != "" {
		for _, k := range []string{parser.FieldChineseName, parser.FieldScenario} {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	if !seen[parser.FieldImage] {
		keys = append(keys, parser.FieldImage)
	}
	l.columns = exporter.ColumnsFor(keys)

	// 只有识别出的图片列才放图片，否则落到 主图src 列
	l.imageCol = parser.FieldImage
	if l.imageKey != "" && seen[l.imageKey] {
		l.imageCol = l.imageKey
	}
	return l
}

func (p *Pipeline) localize(ctx context.Context, data []byte, creds enrich.Credentials, emit func(int, string)) ([]byte, error) {
	if len(data) == 0 {
		return nil, apperr.Invalid("No file uploaded")
	}

	emit(5, "正在解析 Excel 文件...")
	sheet, err := parser.ReadSheet(data, p.logger)
	if err != nil {
		return nil, err
	}

	layout := layoutFor(sheet.Headers)
	products, rows := buildRows(&sheet.Table, layout)

	if layout.titleKey != "" && p.summarizer != nil && p.summarizer.HasKey(creds) {
		if err := p.summarize(ctx, products, layout.titleKey, creds, emit); err != nil {
			return nil, err
		}
	} else {
		p.logger.Info("跳过 AI 总结",
			zap.Bool("has_title", layout.titleKey != ""),
			zap.Int("rows", len(products)))
	}

	emit(80, "正在处理图片下载与嵌入...")
	return p.write(ctx, rows, layout.columns, layout.imageCol, 80, 95, emit)
}

// buildRows 每个数据行一个商品；图片链接取自识别出的图片列，
// 没有图片列时取第一个以链接开头的非标题单元格。单元格原样保留，由写出时覆盖图片列
func buildRows(t *parser.Table, l sheetLayout) ([]*model.Product, []exporter.Row) {
	products := make([]*model.Product, 0, len(t.Rows))
	rows := make([]exporter.Row, 0, len(t.Rows))

	for i, values := range t.Rows {
		prod := model.NewProduct(parser.IndexForDataRow(i))
		var rawImage string
		for c, h := range t.Headers {
			if h == "" || c >= len(values) {
				continue
			}
			text := values[c].Text()
			switch {
			case l.imageKey != "":
				if h == l.imageKey {
					rawImage = text
				}
			case rawImage == "" && h != l.titleKey && parser.IsImageReference(strings.TrimSpace(text)):
				rawImage = text
			}
			if !model.IsInternalKey(h) {
				prod.Set(h, values[c])
			}
		}

		products = append(products, prod)
		rows = append(rows, exporter.Row{Product: prod, ImageURL: httpURL(parser.ExtractImageURL(rawImage))})
	}
	return products, rows
}

func httpURL(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(strings.ToLower(u), "http") {
		return u
	}
	return ""
}

// summarize 分批总结标题；任一批失败即中止
func (p *Pipeline) summarize(ctx context.Context, products []*model.Product, titleKey string, creds enrich.Credentials, emit func(int, string)) error {
	total := (len(products) + p.batchSize - 1) / p.batchSize
	emit(10, fmt.Sprintf("正在准备 AI 总结 (共 %d 批)...", total))

	for start, batch := 0, 1; start < len(products); start, batch = start+p.batchSize, batch+1 {
		end := min(start+p.batchSize, len(products))

		var (
			titles  []string
			targets []*model.Product
		)
		for _, prod := range products[start:end] {
			title := strings.TrimSpace(prod.Text(titleKey))
			if title == "" {
				title = strings.TrimSpace(parser.LookupText(prod, parser.FieldTitle))
			}
			if title == "" {
				continue
			}
			titles = append(titles, title)
			targets = append(targets, prod)
		}
		if len(titles) == 0 {
			continue
		}

		emit(10+batch*70/total, fmt.Sprintf("[AI] 正在分析商品名与场景 (第 %d/%d 批)...", batch, total))
		summaries, err := p.summarizer.SummarizeBatch(ctx, titles, creds)
		if err == nil && len(summaries) != len(titles) {
			err = fmt.Errorf("返回 %d 条结果，期望 %d 条", len(summaries), len(titles))
		}
		if err != nil {
			p.logger.Error("AI 批次失败", zap.Int("batch", batch), zap.Error(err))
			return apperr.Wrap(apperr.CodeEnrichmentFailed, err,
				fmt.Sprintf("AI 处理失败 (第 %d 批): %s", batch, apperr.Message(err)))
		}

		for i, s := range summaries {
			targets[i].Set(parser.FieldChineseName, model.String(s.Name))
			targets[i].Set(parser.FieldScenario, model.String(s.Scenario))
		}
	}
	return nil
}

func (p *Pipeline) write(ctx context.Context, rows []exporter.Row, cols []exporter.Column, imageCol string, from, to int, emit func(int, string)) ([]byte, error) {
	res, err := p.writer.Write(ctx, rows, exporter.Options{
		SheetName:   SheetName,
		Columns:     cols,
		ImageColumn: imageCol,
		Progress: func(evt exporter.ProgressEvent) {
			emit(evt.Percent, evt.Stage)
		},
		ProgressFrom: from,
		ProgressTo:   to,
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("本地化工作簿已生成",
		zap.Int("rows", res.Rows),
		zap.Int("embedded", res.Embedded),
		zap.Int("failed", res.Failed))
	return res.Data, nil
}
