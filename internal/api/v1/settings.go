package v1

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ganzhe0906/ty-productselect/internal/enrich"
	"github.com/Ganzhe0906/ty-productselect/internal/store"
)

// credentialsRequest 请求中携带的大模型凭据（均可为空）
type credentialsRequest struct {
	APIKey  string `json:"apiKey" form:"apiKey"`
	Model   string `json:"model" form:"model"`
	BaseURL string `json:"baseUrl" form:"baseUrl"`
}

// credentials 请求值优先，其次为已保存的设置；仍为空的字段由客户端按配置补齐
func (h *Handler) credentials(ctx context.Context, req credentialsRequest) enrich.Credentials {
	creds := enrich.Credentials{
		APIKey:  strings.TrimSpace(req.APIKey),
		Model:   strings.TrimSpace(req.Model),
		BaseURL: strings.TrimSpace(req.BaseURL),
	}
	if creds.APIKey != "" && creds.Model != "" {
		return creds
	}

	settings, err := h.store.GetAllSettings(ctx)
	if err != nil {
		h.logger.Warn("读取设置失败", zap.Error(err))
		return creds
	}
	if creds.APIKey == "" {
		creds.APIKey = settings[store.SettingLLMAPIKey]
	}
	if creds.Model == "" {
		creds.Model = settings[store.SettingLLMModel]
	}
	return creds
}

// SettingsResponse 设置（API Key 只返回掩码）
type SettingsResponse struct {
	APIKeySet    bool   `json:"apiKeySet"`
	APIKeyMasked string `json:"apiKeyMasked"`
	Model        string `json:"model"`
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// GetSettings 获取已保存的大模型设置
// GET /api/settings
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.store.GetAllSettings(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	key := settings[store.SettingLLMAPIKey]
	c.JSON(http.StatusOK, SettingsResponse{
		APIKeySet:    key != "",
		APIKeyMasked: maskKey(key),
		Model:        settings[store.SettingLLMModel],
	})
}

// UpdateSettingsRequest 更新设置；nil 字段不修改
type UpdateSettingsRequest struct {
	APIKey *string `json:"apiKey"`
	Model  *string `json:"model"`
}

// UpdateSettings 保存大模型设置
// PATCH /api/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	ctx := c.Request.Context()
	updates := map[string]*string{
		store.SettingLLMAPIKey: req.APIKey,
		store.SettingLLMModel:  req.Model,
	}
	for key, value := range updates {
		if value == nil {
			continue
		}
		if err := h.store.SetSetting(ctx, key, strings.TrimSpace(*value)); err != nil {
			h.respondError(c, err)
			return
		}
	}
	h.GetSettings(c)
}

// ListImports 最近的导入记录
// GET /api/imports?limit=
func (h *Handler) ListImports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.store.ListImportLogs(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
