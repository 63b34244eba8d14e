package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	v1 "github.com/Ganzhe0906/ty-productselect/internal/api/v1"
	"github.com/Ganzhe0906/ty-productselect/internal/config"
	"github.com/Ganzhe0906/ty-productselect/internal/util"
)

// FilesPrefix 本地存储对外提供文件的路由前缀
const FilesPrefix = "/files"

// Options 服务器可选项
type Options struct {
	// FilesRoot 本地对象存储目录，非空时挂载到 /files
	FilesRoot string
	Logger    *zap.Logger
}

// Server HTTP服务器
type Server struct {
	router *gin.Engine
	http   *http.Server
	v1     *v1.Handler
	logger *zap.Logger
}

// NewServer 创建服务器
func NewServer(cfg *config.AppConfig, handler *v1.Handler, opts Options) *Server {
	devMode := cfg.Server.DevMode
	if !devMode {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := util.OrNop(opts.Logger)

	s := &Server{
		router: gin.New(),
		v1:     handler,
		logger: logger,
	}
	s.router.Use(gin.Recovery(), s.accessLog())
	s.setupRoutes(cfg, opts)
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// accessLog 请求日志
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if strings.HasPrefix(c.Request.URL.Path, "/assets") {
			return
		}
		s.logger.Info("请求",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(cfg *config.AppConfig, opts Options) {
	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// V1 API 路由，/api 与 /api/v1 均可访问
	s.v1.RegisterRoutes(s.router.Group("/api"))
	s.v1.RegisterRoutes(s.router.Group("/api/v1"))

	// 本地对象存储
	if opts.FilesRoot != "" {
		s.router.StaticFS(FilesPrefix, gin.Dir(opts.FilesRoot, false))
	}

	// 静态资源
	switch {
	case cfg.Server.DevMode:
		// 开发模式：代理到前端开发服务器
		s.router.NoRoute(func(c *gin.Context) {
			c.Redirect(http.StatusTemporaryRedirect, "http://localhost:5173"+c.Request.URL.Path)
		})
	case cfg.Server.StaticDir != "":
		dir := cfg.Server.StaticDir
		s.router.Static("/assets", filepath.Join(dir, "assets"))
		index := filepath.Join(dir, "index.html")

		// SPA 路由 fallback
		s.router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.JSON(http.StatusNotFound, gin.H{"error": "接口不存在"})
				return
			}
			if _, err := os.Stat(index); err != nil {
				c.Status(http.StatusNotFound)
				return
			}
			c.File(index)
		})
	}
}

// Handler 路由（用于测试）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr 监听地址
func (s *Server) Addr() string { return s.http.Addr }

// Run 启动服务器，阻塞直到关闭
func (s *Server) Run() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭，等待进行中的请求完成
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
