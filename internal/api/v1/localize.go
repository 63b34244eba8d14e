package v1

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ganzhe0906/ty-productselect/internal/service/localize"
)

// startNDJSON 设置逐行 JSON 的流式响应头
func startNDJSON(c *gin.Context) (http.Flusher, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return nil, false
	}
	c.Header("Content-Type", "application/x-ndjson; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return flusher, true
}

// streamNDJSON 逐行写出事件；客户端断开后只消费不写
func streamNDJSON(c *gin.Context, flusher http.Flusher, events <-chan localize.Event) {
	gone := c.Request.Context().Done()
	enc := json.NewEncoder(c.Writer)
	for evt := range events {
		select {
		case <-gone:
			continue
		default:
		}
		if err := enc.Encode(evt); err != nil {
			continue
		}
		flusher.Flush()
	}
}

// Localize 上传工作簿，AI 总结并嵌入图片 (NDJSON 流式进度)
// POST /api/localize
func (h *Handler) Localize(c *gin.Context) {
	var creds credentialsRequest
	_ = c.ShouldBind(&creds)

	_, data, err := readUpload(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	flusher, ok := startNDJSON(c)
	if !ok {
		return
	}
	events := h.localize.Run(c.Request.Context(), data, h.credentials(c.Request.Context(), creds))
	streamNDJSON(c, flusher, events)
}

// LocalizeFinalize 用前端整理好的数据生成工作簿 (NDJSON 流式进度)
// POST /api/localize/finalize
func (h *Handler) LocalizeFinalize(c *gin.Context) {
	var req localize.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	flusher, ok := startNDJSON(c)
	if !ok {
		return
	}
	streamNDJSON(c, flusher, h.localize.Finalize(c.Request.Context(), req))
}

// BatchRequest 批量总结请求
type BatchRequest struct {
	Titles []string `json:"titles"`
	credentialsRequest
}

// LocalizeBatch 批量总结商品标题
// POST /api/localize/batch
func (h *Handler) LocalizeBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Titles == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Titles array is required"})
		return
	}

	ctx := c.Request.Context()
	creds := h.credentials(ctx, req.credentialsRequest)
	if !h.llm.HasKey(creds) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API Key is missing"})
		return
	}

	summaries, err := h.llm.SummarizeBatch(ctx, req.Titles, creds)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("批量总结完成", zap.Int("titles", len(req.Titles)))
	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

// DebugLLM 测试大模型连接
// POST /api/debug/llm
func (h *Handler) DebugLLM(c *gin.Context) {
	var req credentialsRequest
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	creds := h.credentials(ctx, req)
	if !h.llm.HasKey(creds) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "API Key is missing"})
		return
	}

	res := h.llm.Ping(ctx, creds)
	message := "Connection successful!"
	if !res.Success {
		message = res.Error
		if message == "" {
			message = "Check debug steps"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": res.Success,
		"data":    res,
		"message": message,
	})
}
