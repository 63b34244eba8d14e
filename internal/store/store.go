package store

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite3.sql schema_postgres.sql
var schemaFS embed.FS

// 支持的驱动
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store 选品库存储层（SQLite 本地 / Postgres 部署）
type Store struct {
	db     *sqlx.DB
	driver string
}

// New 创建新的 Store 实例
func New(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		// 确保数据库文件目录存在
		if path := sqlitePath(dsn); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite 建议单连接
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	store := &Store{db: db, driver: driver}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func sqlitePath(dsn string) string {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:") {
		return ""
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return path
}

// initSchema 初始化数据库结构
func (s *Store) initSchema() error {
	name := fmt.Sprintf("schema_%s.sql", s.driver)
	schemaSQL, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if _, err := s.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Driver 当前驱动名
func (s *Store) Driver() string { return s.driver }

// DB 获取原始数据库连接（用于事务等高级操作）
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// q 将 ? 占位符转换为当前驱动的格式
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}
