package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `toml:"server"`
	Data      DataConfig      `toml:"data"`
	Database  DatabaseConfig  `toml:"database"`
	Storage   StorageConfig   `toml:"storage"`
	LLM       LLMConfig       `toml:"llm"`
	Export    ExportConfig    `toml:"export"`
	Selection SelectionConfig `toml:"selection"`
	Auth      AuthConfig      `toml:"auth"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port      int    `toml:"port"`
	DevMode   bool   `toml:"dev_mode"`
	StaticDir string `toml:"static_dir"` // 前端构建产物目录，空则不托管
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string `toml:"driver"` // sqlite3 | postgres
	DSN    string `toml:"dsn"`    // sqlite3 为文件名（相对数据目录），postgres 为连接串
}

// StorageConfig S3 兼容对象存储（默认 Cloudflare R2）
type StorageConfig struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
	PublicURL string `toml:"public_url"`
}

// Enabled 是否配置了远程对象存储
func (c StorageConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// LLMConfig 大模型配置（OpenAI 兼容接口）
type LLMConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	BatchSize      int    `toml:"batch_size"`
	RatePerMinute  int    `toml:"rate_per_minute"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ExportConfig 导出配置
type ExportConfig struct {
	ImageConcurrency    int     `toml:"image_concurrency"`
	FetchTimeoutSeconds int     `toml:"fetch_timeout_seconds"`
	RowHeight           float64 `toml:"row_height"`
	ImageBoxPixels      int     `toml:"image_box_pixels"`
	ThumbnailMaxWidth   int     `toml:"thumbnail_max_width"`
}

// SelectionConfig 双人选品配置
type SelectionConfig struct {
	Creators []string `toml:"creators"`
}

// AuthConfig 登录账号
type AuthConfig struct {
	Users []UserConfig `toml:"users"`
}

// UserConfig 账号
type UserConfig struct {
	Name     string `toml:"name"`
	Password string `toml:"password"`
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	PortSpecified bool
	Path          string
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:    20262,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir: "data",
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "productselect.db",
		},
		Storage: StorageConfig{
			Region: "auto",
			UseSSL: true,
		},
		LLM: LLMConfig{
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:          "gemini-2.0-flash",
			BatchSize:      30,
			RatePerMinute:  30,
			TimeoutSeconds: 120,
		},
		Export: ExportConfig{
			ImageConcurrency:    10,
			FetchTimeoutSeconds: 30,
			RowHeight:           100,
			ImageBoxPixels:      120,
			ThumbnailMaxWidth:   360,
		},
		Selection: SelectionConfig{
			Creators: []string{"flz", "lyy"},
		},
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// DefaultConfigPath 可执行文件同目录下的 config.toml
func DefaultConfigPath() string {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}
	return filepath.Join(exeDir, "config.toml")
}

// LoadConfigWithInfo 从 config.toml 加载配置，再用环境变量覆盖
func LoadConfigWithInfo(configPath string) (*AppConfig, LoadConfigInfo, error) {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	info := LoadConfigInfo{Path: configPath}
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, err
		}
	case os.IsNotExist(err):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	ApplyEnv(config, os.Getenv)
	return config, info, nil
}

// ApplyEnv 环境变量覆盖（兼容 R2_* / GEMINI_API_KEY 等部署变量）
func ApplyEnv(config *AppConfig, getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			config.Server.Port = port
		}
	}
	if v := getenv("DATABASE_URL"); v != "" {
		config.Database.Driver = "postgres"
		config.Database.DSN = v
	}

	setString(&config.Storage.Endpoint, getenv("R2_ENDPOINT"))
	setString(&config.Storage.AccessKey, getenv("R2_ACCESS_KEY_ID"))
	setString(&config.Storage.SecretKey, getenv("R2_SECRET_ACCESS_KEY"))
	setString(&config.Storage.Bucket, getenv("R2_BUCKET_NAME"))
	setString(&config.Storage.PublicURL, getenv("R2_PUBLIC_URL"))
	config.Storage.Endpoint = stripScheme(config.Storage.Endpoint)

	setString(&config.LLM.APIKey, getenv("GEMINI_API_KEY"))
	setString(&config.LLM.APIKey, getenv("LLM_API_KEY"))
	setString(&config.LLM.BaseURL, getenv("LLM_BASE_URL"))
	setString(&config.LLM.Model, getenv("LLM_MODEL"))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// stripScheme minio 客户端需要不带协议的 endpoint
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimSuffix(endpoint, "/")
}

// SaveConfig 保存配置到 config.toml
func SaveConfig(config *AppConfig, configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// EnsureDataDir 确保数据目录存在
// 相对路径基于可执行文件所在目录
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := config.Data.DataDir
	if !filepath.IsAbs(dataDir) {
		exeDir, err := GetExeDir()
		if err != nil {
			exeDir = "."
		}
		dataDir = filepath.Join(exeDir, dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	return dataDir, nil
}

// DatabaseDSN 返回实际使用的连接串：sqlite3 的相对文件名落在数据目录下
func DatabaseDSN(config *AppConfig, dataDir string) string {
	if config.Database.Driver != "sqlite3" {
		return config.Database.DSN
	}
	dsn := config.Database.DSN
	if dsn == "" {
		dsn = "productselect.db"
	}
	if filepath.IsAbs(dsn) || strings.HasPrefix(dsn, "file:") || dsn == ":memory:" {
		return dsn
	}
	return filepath.Join(dataDir, dsn)
}
