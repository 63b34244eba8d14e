package v1

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/exporter"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/service/library"
	"github.com/Ganzhe0906/ty-productselect/internal/storage"
)

// ExportRequest 导出请求
type ExportRequest struct {
	Products  []*model.Product `json:"products"`
	LibraryID string           `json:"libraryId"`
}

// CombinedExportRequest 双人交集导出请求
type CombinedExportRequest struct {
	OriginalLibraryID string `json:"originalLibraryId"`
}

type exportProgressEvent struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// contentDisposition ASCII 文件名加 RFC 5987 编码的原名
func contentDisposition(filename string) string {
	ascii := strings.Map(func(r rune) rune {
		if r > 0x7e || r < 0x20 || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", ascii, url.PathEscape(filename))
}

func sendWorkbook(c *gin.Context, file *library.ExportFile) {
	c.Header("Content-Disposition", contentDisposition(file.Filename))
	c.Data(http.StatusOK, storage.XLSXContentType, file.Data)
}

// Export 导出选中商品
// POST /api/export
func (h *Handler) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	file, err := h.libraries.Export(workContext(c), library.ExportRequest{
		Products:  req.Products,
		LibraryID: req.LibraryID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	sendWorkbook(c, file)
}

// ExportStream 导出（SSE 进度 + 完成后提供下载地址）
// POST /api/export/stream
func (h *Handler) ExportStream(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}
	if len(req.Products) == 0 {
		h.respondError(c, apperr.Invalid("No products to export"))
		return
	}

	flusher, ok := startSSE(c)
	if !ok {
		return
	}
	send := func(event exportProgressEvent) {
		event.Timestamp = time.Now()
		writeSSE(c, flusher, event)
	}

	send(exportProgressEvent{
		Type:    "start",
		Message: "开始导出",
		Data:    map[string]any{"products": len(req.Products)},
	})

	// 进度回调来自下载 goroutine，写响应前串行化
	events := make(chan exporter.ProgressEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range events {
			send(exportProgressEvent{
				Type:    "progress",
				Message: p.Stage,
				Data:    map[string]any{"percent": p.Percent},
			})
		}
	}()

	file, err := h.libraries.Export(workContext(c), library.ExportRequest{
		Products:  req.Products,
		LibraryID: req.LibraryID,
		Progress: func(p exporter.ProgressEvent) {
			select {
			case events <- p:
			default:
			}
		},
	})
	close(events)
	<-done

	if err != nil {
		send(exportProgressEvent{
			Type:    "error",
			Message: "导出失败: " + apperr.Message(err),
			Data:    map[string]any{},
		})
		return
	}

	token := h.downloads.put(file.Filename, file.Data, exportDownloadTTL)
	prefix := "/api"
	if strings.HasPrefix(c.Request.URL.Path, "/api/v1/") {
		prefix = "/api/v1"
	}

	send(exportProgressEvent{
		Type:    "done",
		Message: "导出完成",
		Data: map[string]any{
			"percent":     100,
			"downloadUrl": fmt.Sprintf("%s/export/download/%s", prefix, token),
			"filename":    file.Filename,
			"embedded":    file.Result.Embedded,
			"failed":      file.Result.Failed,
		},
	})
}

// DownloadExport 下载流式导出的文件（一次性）
// GET /api/export/download/:token
func (h *Handler) DownloadExport(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 token"})
		return
	}

	item, ok := h.downloads.take(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "下载链接已失效"})
		return
	}
	sendWorkbook(c, &library.ExportFile{Filename: item.filename, Data: item.data})
}

// ExportCombined 导出双人共同选中的商品
// POST /api/export/combined
func (h *Handler) ExportCombined(c *gin.Context) {
	var req CombinedExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	file, err := h.libraries.CombinedExport(workContext(c), req.OriginalLibraryID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	sendWorkbook(c, file)
}
