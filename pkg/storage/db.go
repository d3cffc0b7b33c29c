// Package storage 提供数据存储功能
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/KodaTao/LLMFunctions/pkg/observability"
)

// DB 全局数据库实例
var DB *gorm.DB

// Config 数据库配置
type Config struct {
	Path string `mapstructure:"path"` // 数据库文件路径
}

// Open 打开 sqlite 数据库
// path 为 ":memory:" 时使用内存数据库
func Open(path string) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = expandPath(path)
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// 内存数据库每个连接相互独立
	if path == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// InitDB 初始化全局数据库连接并迁移执行记录表
func InitDB(cfg Config) error {
	db, err := Open(cfg.Path)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&ExecutionLog{}); err != nil {
		return err
	}

	DB = db
	observability.Info("Database initialized", "path", cfg.Path)
	return nil
}

// GetDB 获取数据库实例
func GetDB() *gorm.DB {
	return DB
}

// Close 关闭数据库连接
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	DB = nil
	return sqlDB.Close()
}

// expandPath 展开路径中的 ~ 为用户主目录
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// 错误定义
var (
	ErrDBNotInitialized = &DBError{Message: "database not initialized"}
)

// DBError 数据库错误
type DBError struct {
	Message string
}

func (e *DBError) Error() string {
	return e.Message
}
