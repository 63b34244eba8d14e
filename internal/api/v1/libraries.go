package v1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/importer"
	"github.com/Ganzhe0906/ty-productselect/internal/model"
	"github.com/Ganzhe0906/ty-productselect/internal/service/library"
)

const maxUploadBytes = 100 << 20

// readUpload 读取 multipart 中的 file 字段
func readUpload(c *gin.Context) (string, []byte, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return "", nil, apperr.Invalid("No file uploaded")
	}
	if header.Size > maxUploadBytes {
		return "", nil, apperr.Invalid("文件过大: %d 字节", header.Size)
	}
	f, err := header.Open()
	if err != nil {
		return "", nil, apperr.Invalid("读取上传文件失败")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return "", nil, apperr.Invalid("读取上传文件失败")
	}
	return header.Filename, data, nil
}

func importRequest(c *gin.Context) (importer.ImportRequest, error) {
	filename, data, err := readUpload(c)
	if err != nil {
		return importer.ImportRequest{}, err
	}
	return importer.ImportRequest{
		Filename:  filename,
		Data:      data,
		Name:      c.PostForm("name"),
		CreatedBy: c.PostForm("createdBy"),
	}, nil
}

// ListLibraries 按类型列出选品库
// GET /api/libraries?type=pending|completed
func (h *Handler) ListLibraries(c *gin.Context) {
	libs, err := h.libraries.List(c.Request.Context(), model.LibraryType(c.Query("type")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, libs)
}

// UploadLibrary 上传工作簿，同步创建母库
// POST /api/libraries
func (h *Handler) UploadLibrary(c *gin.Context) {
	req, err := importRequest(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	report, err := h.importer.Run(workContext(c), req, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report.Library)
}

// ImportStream 上传工作簿 (SSE 流式进度)
// POST /api/libraries/import/stream
func (h *Handler) ImportStream(c *gin.Context) {
	req, err := importRequest(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	flusher, ok := startSSE(c)
	if !ok {
		return
	}

	progressChan := h.importer.Import(c.Request.Context(), req)
	gone := c.Request.Context().Done()
	for event := range progressChan {
		select {
		case <-gone:
			// 客户端已断开，继续消费直到导入结束
			continue
		default:
		}
		writeSSE(c, flusher, event)
	}
}

// startSSE 设置 SSE 响应头
func startSSE(c *gin.Context) (http.Flusher, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return nil, false
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return flusher, true
}

// writeSSE SSE 格式: data: {json}\n\n
func writeSSE(c *gin.Context, flusher http.Flusher, event any) {
	b, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", b)
	flusher.Flush()
}

// GetLibrary 获取选品库
// GET /api/libraries/:id
func (h *Handler) GetLibrary(c *gin.Context) {
	lib, err := h.libraries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lib)
}

// ParseLibrary 获取选品库并附带工作簿中的原图
// GET /api/libraries/:id/parse
func (h *Handler) ParseLibrary(c *gin.Context) {
	lib, err := h.libraries.GetForDisplay(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lib)
}

// RenameRequest 重命名请求
type RenameRequest struct {
	Name string `json:"name"`
}

// RenameLibrary 重命名
// PATCH /api/libraries/:id
func (h *Handler) RenameLibrary(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}
	if err := h.libraries.Rename(c.Request.Context(), c.Param("id"), req.Name); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteLibrary 删除选品库；母库级联删除
// DELETE /api/libraries/:id
func (h *Handler) DeleteLibrary(c *gin.Context) {
	report, err := h.libraries.Delete(workContext(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// SaveCompleted 保存选品结果
// POST /api/libraries/completed
func (h *Handler) SaveCompleted(c *gin.Context) {
	var req library.SaveCompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	lib, err := h.libraries.SaveCompleted(workContext(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": lib.ID, "excelUrl": lib.ExcelURL})
}

// ListCombined 双人选品概览
// GET /api/libraries/combined
func (h *Handler) ListCombined(c *gin.Context) {
	entries, err := h.libraries.Combined(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
