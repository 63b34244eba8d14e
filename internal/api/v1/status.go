package v1

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ganzhe0906/ty-productselect/internal/model"
)

// StatusResponse 系统状态响应
type StatusResponse struct {
	OK             bool     `json:"ok"`
	Database       string   `json:"database"`       // sqlite3 / postgres
	Storage        string   `json:"storage"`        // s3 / disk / memory
	PendingCount   int      `json:"pendingCount"`   // 待选母库数
	CompletedCount int      `json:"completedCount"` // 选品结果数
	Creators       []string `json:"creators"`
	LLMConfigured  bool     `json:"llmConfigured"`
}

// GetStatus 获取系统状态
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	counts, err := h.store.CountLibraries(c.Request.Context())
	if err != nil {
		h.logger.Warn("统计选品库失败", zap.Error(err))
		c.JSON(http.StatusOK, StatusResponse{OK: false, Database: h.store.Driver(), Storage: h.storageKind})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		OK:             true,
		Database:       h.store.Driver(),
		Storage:        h.storageKind,
		PendingCount:   counts[model.LibraryPending],
		CompletedCount: counts[model.LibraryCompleted],
		Creators:       h.libraries.Creators(),
		LLMConfigured:  h.llm != nil && h.llm.HasKey(h.credentials(c.Request.Context(), credentialsRequest{})),
	})
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login 校验账号密码
// POST /api/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	name := strings.ToLower(strings.TrimSpace(req.Username))
	for _, u := range h.users {
		if strings.ToLower(strings.TrimSpace(u.Name)) != name {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(u.Password), []byte(req.Password)) == 1 {
			c.JSON(http.StatusOK, gin.H{"success": true, "user": name})
			return
		}
		break
	}

	h.logger.Info("登录失败", zap.String("user", name))
	c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "用户名或密码错误"})
}
