package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	v1 "github.com/Ganzhe0906/ty-productselect/internal/api/v1"
	"github.com/Ganzhe0906/ty-productselect/internal/config"
	"github.com/Ganzhe0906/ty-productselect/internal/enrich"
	"github.com/Ganzhe0906/ty-productselect/internal/exporter"
	"github.com/Ganzhe0906/ty-productselect/internal/importer"
	"github.com/Ganzhe0906/ty-productselect/internal/server"
	"github.com/Ganzhe0906/ty-productselect/internal/service/library"
	"github.com/Ganzhe0906/ty-productselect/internal/service/localize"
	"github.com/Ganzhe0906/ty-productselect/internal/storage"
	"github.com/Ganzhe0906/ty-productselect/internal/store"
	"github.com/Ganzhe0906/ty-productselect/internal/util"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (默认为可执行文件同目录下的 config.toml)")
	port       = flag.Int("port", 0, "服务端口 (config.toml 优先；仅当未显式配置 port 时生效)")
	devMode    = flag.Bool("dev", false, "开发模式")
	dataDir    = flag.String("dataDir", "", "数据目录 (覆盖配置文件)")
	openPage   = flag.Bool("open", false, "启动后自动打开浏览器")
)

func main() {
	flag.Parse()

	fmt.Println("==========================================")
	fmt.Println("  滑动选品 - 商品选品工具")
	fmt.Println("==========================================")

	// .env.local 优先于 .env，已存在的环境变量不被覆盖
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	// 加载配置
	cfg, info, err := config.LoadConfigWithInfo(*configPath)
	if err != nil {
		log.Printf("加载配置失败，使用默认配置: %v", err)
		cfg = config.DefaultConfig()
		config.ApplyEnv(cfg, os.Getenv)
		info = config.LoadConfigInfo{}
	}

	// 命令行参数覆盖配置
	if *port > 0 && !info.PortSpecified {
		cfg.Server.Port = *port
	}
	if *devMode {
		cfg.Server.DevMode = true
	}
	if *dataDir != "" {
		cfg.Data.DataDir = *dataDir
	}

	logger, err := util.NewLogger(cfg.Server.DevMode)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 确保数据目录存在
	dir, err := config.EnsureDataDir(cfg)
	if err != nil {
		log.Fatalf("创建数据目录失败: %v", err)
	}
	fmt.Printf("数据目录: %s\n", dir)

	st, err := store.New(cfg.Database.Driver, config.DatabaseDSN(cfg, dir))
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer st.Close()
	fmt.Printf("数据库: %s\n", st.Driver())

	objects, filesRoot, storageKind, err := openObjectStore(cfg, dir, logger)
	if err != nil {
		log.Fatalf("初始化对象存储失败: %v", err)
	}
	fmt.Printf("对象存储: %s\n", storageKind)

	fetcher := storage.NewFetcher(objects, time.Duration(cfg.Export.FetchTimeoutSeconds)*time.Second)
	writer := exporter.NewWriter(fetcher, exporter.Config{
		Concurrency:       cfg.Export.ImageConcurrency,
		RowHeight:         cfg.Export.RowHeight,
		ImageBox:          cfg.Export.ImageBoxPixels,
		ThumbnailMaxWidth: cfg.Export.ThumbnailMaxWidth,
	}, logger.Named("exporter"))
	llm := enrich.NewClient(cfg.LLM, logger.Named("llm"))

	handler := v1.NewHandler(v1.Deps{
		Store:       st,
		Libraries:   library.NewService(st, objects, fetcher, writer, cfg.Selection.Creators, logger.Named("library")),
		Importer:    importer.NewCoordinator(st, objects, logger.Named("importer")),
		Localize:    localize.NewPipeline(llm, writer, cfg.LLM.BatchSize, logger.Named("localize")),
		LLM:         llm,
		Users:       cfg.Auth.Users,
		StorageKind: storageKind,
		Logger:      logger.Named("api"),
	})
	srv := server.NewServer(cfg, handler, server.Options{FilesRoot: filesRoot, Logger: logger.Named("http")})

	// 启动服务器
	go func() {
		fmt.Printf("服务启动中，监听端口 %d ...\n", cfg.Server.Port)
		if err := srv.Run(); err != nil {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	url := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	if cfg.Server.DevMode {
		fmt.Printf("开发模式: 请访问 %s\n", url)
	} else {
		fmt.Printf("请访问: %s\n", url)
		if *openPage {
			time.Sleep(500 * time.Millisecond)
			if err := util.OpenBrowser(url); err != nil {
				fmt.Printf("无法自动打开浏览器: %v\n", err)
			}
		}
	}
	fmt.Println("\n按 Ctrl+C 停止服务...")

	// 等待信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n正在关闭服务...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("关闭服务失败", zap.Error(err))
	}
}

// openObjectStore 配置了 S3 时使用远程存储，否则落在数据目录下的 files/
func openObjectStore(cfg *config.AppConfig, dataDir string, logger *zap.Logger) (storage.ObjectStore, string, string, error) {
	if cfg.Storage.Enabled() {
		s, err := storage.NewMinioStore(cfg.Storage, logger.Named("s3"))
		if err != nil {
			return nil, "", "", err
		}
		return s, "", "s3", nil
	}

	publicURL := cfg.Storage.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("http://localhost:%d%s", cfg.Server.Port, server.FilesPrefix)
	}
	root := filepath.Join(dataDir, "files")
	s, err := storage.NewDiskStore(root, publicURL)
	if err != nil {
		return nil, "", "", err
	}
	return s, s.Root(), "disk", nil
}
