package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ganzhe0906/ty-productselect/internal/apperr"
	"github.com/Ganzhe0906/ty-productselect/internal/config"
	"github.com/Ganzhe0906/ty-productselect/internal/enrich"
	"github.com/Ganzhe0906/ty-productselect/internal/importer"
	"github.com/Ganzhe0906/ty-productselect/internal/service/library"
	"github.com/Ganzhe0906/ty-productselect/internal/service/localize"
	"github.com/Ganzhe0906/ty-productselect/internal/store"
)

// LLM 本地化与连接测试用到的大模型能力
type LLM interface {
	localize.Summarizer
	Ping(ctx context.Context, creds enrich.Credentials) *enrich.DebugResult
}

// Deps 处理器依赖
type Deps struct {
	Store     *store.Store
	Libraries *library.Service
	Importer  *importer.Coordinator
	Localize  *localize.Pipeline
	LLM       LLM
	Users     []config.UserConfig
	// StorageKind 对象存储类型，仅用于状态展示
	StorageKind string
	Logger      *zap.Logger
}

// Handler V1 API 处理器
type Handler struct {
	store       *store.Store
	libraries   *library.Service
	importer    *importer.Coordinator
	localize    *localize.Pipeline
	llm         LLM
	users       []config.UserConfig
	storageKind string
	downloads   *exportDownloadStore
	logger      *zap.Logger
}

// NewHandler 创建 V1 API 处理器
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:       d.Store,
		libraries:   d.Libraries,
		importer:    d.Importer,
		localize:    d.Localize,
		llm:         d.LLM,
		users:       d.Users,
		storageKind: d.StorageKind,
		downloads:   newExportDownloadStore(),
		logger:      logger,
	}
}

// RegisterRoutes 注册 V1 API 路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 系统状态
	router.GET("/status", h.GetStatus)
	router.POST("/login", h.Login)

	// 选品库
	router.GET("/libraries", h.ListLibraries)
	router.POST("/libraries", h.UploadLibrary)
	router.POST("/libraries/import/stream", h.ImportStream)
	router.POST("/libraries/completed", h.SaveCompleted)
	router.GET("/libraries/combined", h.ListCombined)
	router.GET("/libraries/:id", h.GetLibrary)
	router.GET("/libraries/:id/parse", h.ParseLibrary)
	router.PATCH("/libraries/:id", h.RenameLibrary)
	router.DELETE("/libraries/:id", h.DeleteLibrary)

	// 导出
	router.POST("/export", h.Export)
	router.POST("/export/stream", h.ExportStream)
	router.GET("/export/download/:token", h.DownloadExport)
	router.POST("/export/combined", h.ExportCombined)

	// 本地化
	router.POST("/localize", h.Localize)
	router.POST("/localize/finalize", h.LocalizeFinalize)
	router.POST("/localize/batch", h.LocalizeBatch)
	router.POST("/debug/llm", h.DebugLLM)

	// 设置与导入记录
	router.GET("/settings", h.GetSettings)
	router.PATCH("/settings", h.UpdateSettings)
	router.GET("/imports", h.ListImports)
}

// respondError 按错误码返回 JSON 错误
// workContext 已开始的导出、上传、删除在客户端断开后继续完成
func workContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("请求失败",
			zap.String("path", c.Request.URL.Path),
			zap.String("code", apperr.Code(err)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}
