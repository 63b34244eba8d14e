package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/parser"
	"github.com/Ganzhe0906/ty-productselect/internal/storage"
	"github.com/Ganzhe0906/ty-productselect/internal/store"
)

// Coordinator 导入协调器
type Coordinator struct {
	store   *store.Store
	objects storage.ObjectStore
	logger  *zap.Logger
}

// NewCoordinator 创建导入协调器
func NewCoordinator(st *store.Store, objects storage.ObjectStore, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:   st,
		objects: objects,
		logger:  logger,
	}
}

// ImportRequest 导入请求
type ImportRequest struct {
	Filename string
	Data     []byte
	// Name 选品库名称，为空时取文件名（不含扩展名）
	Name      string
	CreatedBy string
}

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string    `json:"type"`    // start/info/parsed/images/saved/done/error
	Message   string    `json:"message"` // 事件消息
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ImportReport 导入结果
type ImportReport struct {
	LibraryID     string         `json:"libraryId"`
	Name          string         `json:"name"`
	ProductCount  int            `json:"productCount"`
	ImageCount    int            `json:"imageCount"`
	FailedImages  int            `json:"failedImages"`
	DroppedImages int            `json:"droppedImages"`
	Duration      time.Duration  `json:"duration"`
	Library       *model.Library `json:"-"`
}

// Import 异步导入，返回进度通道；客户端断开不影响导入继续
func (c *Coordinator) Import(ctx context.Context, req ImportRequest) <-chan ProgressEvent {
	progressChan := make(chan ProgressEvent, 100)
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer close(progressChan)
		_, _ = c.Run(ctx, req, func(evt ProgressEvent) {
			c.sendProgress(progressChan, evt)
		})
	}()

	return progressChan
}

// Run 同步导入；emit 可为 nil
func (c *Coordinator) Run(ctx context.Context, req ImportRequest, emit func(ProgressEvent)) (*ImportReport, error) {
	if emit == nil {
		emit = func(ProgressEvent) {}
	}
	send := func(typ, msg string, data any) {
		emit(ProgressEvent{Type: typ, Message: msg, Data: data, Timestamp: time.Now()})
	}

	report, logID, err := c.run(ctx, req, send)
	if err != nil {
		c.logger.Error("导入失败", zap.String("filename", req.Filename), zap.Error(err))
		c.finishLog(ctx, logID, store.ImportResult{
			Status:       model.ImportFailed,
			ErrorMessage: apperr.Message(err),
		})
		send("error", apperr.Message(err), nil)
		return nil, err
	}

	c.finishLog(ctx, logID, store.ImportResult{
		LibraryID:    report.LibraryID,
		Status:       model.ImportSuccess,
		ProductCount: report.ProductCount,
		ImageCount:   report.ImageCount,
		FailedImages: report.FailedImages,
	})
	send("done", "导入完成", report)
	return report, nil
}

func (c *Coordinator) run(ctx context.Context, req ImportRequest, send func(string, string, any)) (*ImportReport, int64, error) {
	start := time.Now()
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	send("start", "开始导入 Excel 文件", map[string]any{"filename": filename, "size": len(req.Data)})

	if len(req.Data) == 0 {
		return nil, 0, apperr.Invalid("未上传文件")
	}

	sum := sha256.Sum256(req.Data)
	logID, err := c.store.CreateImportLog(ctx, filename, int64(len(req.Data)), hex.EncodeToString(sum[:]))
	if err != nil {
		// 导入日志失败不影响导入
		c.logger.Warn("创建导入日志失败", zap.Error(err))
	}

	sheet, err := parser.ReadSheet(req.Data, c.logger)
	if err != nil {
		return nil, logID, err
	}
	send("parsed", fmt.Sprintf("工作表 %q 解析完成: %d 行, %d 张图片", sheet.Name, len(sheet.Table.Rows), sheet.Images.Len()),
		map[string]any{
			"sheet":  sheet.Name,
			"rows":   len(sheet.Table.Rows),
			"images": sheet.Images.Len(),
		})

	id := uuid.NewString()
	excelURL, err := c.objects.Put(ctx, storage.WorkbookPath(id), req.Data, storage.XLSXContentType)
	if err != nil {
		return nil, logID, apperr.Wrap(apperr.CodeStorage, err, "上传工作簿失败")
	}
	send("info", "工作簿已上传", map[string]any{"excelUrl": excelURL})

	urls, failed := c.uploadImages(ctx, id, sheet.Images)
	send("images", fmt.Sprintf("图片上传完成: 成功 %d, 失败 %d", len(urls), failed),
		map[string]any{"uploaded": len(urls), "failed": failed})

	refs := parser.NewImageRefs(sheet.Images, func(img parser.Image) string {
		return urls[img.Seq]
	})
	products := parser.Materialize(&sheet.Table, refs)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	if name == "" {
		name = "Library_" + id[:8]
	}

	lib := &model.Library{
		ID:        id,
		Name:      name,
		Type:      model.LibraryPending,
		Timestamp: model.NowMillis(),
		ExcelURL:  excelURL,
		Products:  products,
		CreatedBy: req.CreatedBy,
	}
	if err := c.store.SaveLibrary(ctx, lib); err != nil {
		// 回收已上传的对象
		orphans := []string{excelURL}
		for _, u := range urls {
			orphans = append(orphans, u)
		}
		storage.DeleteAll(ctx, c.objects, orphans, c.logger)
		return nil, logID, err
	}
	send("saved", "选品库已保存", map[string]any{"libraryId": id, "products": len(products)})

	dropped := 0
	for _, img := range sheet.Images.All() {
		if first, ok := sheet.Images.FirstInRow(img.Row); ok && first.Seq != img.Seq {
			dropped++
		}
	}

	c.logger.Info("导入完成",
		zap.String("library_id", id),
		zap.String("filename", filename),
		zap.Int("products", len(products)),
		zap.Int("images", len(urls)),
		zap.Int("anchored_images", refs.Len()),
		zap.Int("failed_images", failed))

	return &ImportReport{
		LibraryID:     id,
		Name:          name,
		ProductCount:  len(products),
		ImageCount:    len(urls),
		FailedImages:  failed,
		DroppedImages: dropped,
		Duration:      time.Since(start),
		Library:       lib,
	}, logID, nil
}

// uploadImages 并发上传全部锚点图片，单张失败跳过
func (c *Coordinator) uploadImages(ctx context.Context, libraryID string, images *parser.ImageIndex) (map[int]string, int) {
	var (
		mu     sync.Mutex
		urls   = make(map[int]string, images.Len())
		failed int
	)

	g := new(errgroup.Group)
	for _, img := range images.All() {
		img := img
		g.Go(func() error {
			path := storage.ImagePath(libraryID, img.Row, img.Col, img.Seq, parser.FileExt(img.Ext))
			url, err := c.objects.Put(ctx, path, img.Data, img.ContentType())

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				c.logger.Warn("图片上传失败",
					zap.String("library_id", libraryID),
					zap.String("path", path),
					zap.Error(err))
				return nil
			}
			urls[img.Seq] = url
			return nil
		})
	}
	_ = g.Wait()
	return urls, failed
}

func (c *Coordinator) finishLog(ctx context.Context, id int64, r store.ImportResult) {
	if id == 0 {
		return
	}
	if err := c.store.FinishImportLog(ctx, id, r); err != nil {
		c.logger.Warn("更新导入日志失败", zap.Int64("import_log_id", id), zap.Error(err))
	}
}

// sendProgress 发送进度事件；done / error 必须送达
func (c *Coordinator) sendProgress(ch chan ProgressEvent, event ProgressEvent) {
	if event.Type == "done" || event.Type == "error" {
		ch <- event
		return
	}
	select {
	case ch <- event:
	default:
		// 通道已满，丢弃事件
	}
}
