// Package chassis 提供 LLMFunctions 应用装配与配置
package chassis

import (
	"time"

	"github.com/KodaTao/LLMFunctions/pkg/llm"
)

// 执行记录存储后端
const (
	LogStoreMemory = "memory"
	LogStoreSQLite = "sqlite"
	LogStoreRedis  = "redis"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	LLM       llm.Config            `mapstructure:"llm"`
	Providers map[string]llm.Config `mapstructure:"providers"`
	Database  DatabaseConfig        `mapstructure:"database"`
	Log       LogConfig             `mapstructure:"log"`
	LogStore  LogStoreConfig        `mapstructure:"logstore"`
	Metrics   MetricsConfig         `mapstructure:"metrics"`
	Engine    EngineConfig          `mapstructure:"engine"`
	Scheduler SchedulerConfig       `mapstructure:"scheduler"`
	Manifests ManifestsConfig       `mapstructure:"manifests"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// Host 监听地址
	Host string `mapstructure:"host"`

	// Port 监听端口
	Port int `mapstructure:"port"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Path 数据库文件路径，":memory:" 表示内存数据库
	Path string `mapstructure:"path"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format 日志格式：text, json
	Format string `mapstructure:"format"`

	// Output 输出目标：stdout, file
	Output string `mapstructure:"output"`

	// FilePath 日志文件路径（当 Output 为 file 时生效）
	FilePath string `mapstructure:"file_path"`
}

// LogStoreConfig 执行记录存储配置
type LogStoreConfig struct {
	// Backend 存储后端：memory, sqlite, redis
	Backend string `mapstructure:"backend"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否暴露 Prometheus 指标
	Enabled bool `mapstructure:"enabled"`

	// Path 指标暴露路径
	Path string `mapstructure:"path"`
}

// EngineConfig 执行引擎配置
type EngineConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxCorrections  int           `mapstructure:"max_corrections"`
	FunctionTimeout time.Duration `mapstructure:"function_timeout"`
}

// SchedulerConfig 定时评估配置
type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// ManifestsConfig 函数清单配置
type ManifestsConfig struct {
	// Dir 启动时加载的清单目录，为空时不加载
	Dir string `mapstructure:"dir"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "debug",
		},
		LLM: llm.Config{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Timeout:     60,
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Database: DatabaseConfig{
			Path: "~/.llmfn/data.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		LogStore: LogStoreConfig{
			Backend: LogStoreSQLite,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "llmfn:",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Engine: EngineConfig{
			MaxRetries:      3,
			MaxCorrections:  10,
			FunctionTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:    false,
			RunTimeout: 5 * time.Minute,
		},
		Manifests: ManifestsConfig{
			Dir: "",
		},
	}
}

// Option 配置选项函数
type Option func(*Config)

// WithServerPort 设置服务器端口
func WithServerPort(port int) Option {
	return func(c *Config) {
		c.Server.Port = port
	}
}

// WithServerMode 设置运行模式
func WithServerMode(mode string) Option {
	return func(c *Config) {
		c.Server.Mode = mode
	}
}

// WithLLMConfig 设置默认 LLM 配置
func WithLLMConfig(cfg llm.Config) Option {
	return func(c *Config) {
		c.LLM = cfg
	}
}

// WithLogLevel 设置日志级别
func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.Log.Level = level
	}
}

// WithDatabasePath 设置数据库路径
func WithDatabasePath(path string) Option {
	return func(c *Config) {
		c.Database.Path = path
	}
}

// WithLogStore 设置执行记录存储后端
func WithLogStore(backend string) Option {
	return func(c *Config) {
		c.LogStore.Backend = backend
	}
}

// WithRedis 设置 Redis 连接
func WithRedis(r RedisConfig) Option {
	return func(c *Config) {
		c.LogStore.Redis = r
	}
}

// WithScheduler 启用定时评估
func WithScheduler(enabled bool) Option {
	return func(c *Config) {
		c.Scheduler.Enabled = enabled
	}
}

// WithManifestsDir 设置函数清单目录
func WithManifestsDir(dir string) Option {
	return func(c *Config) {
		c.Manifests.Dir = dir
	}
}

// WithConfig 整体替换配置
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}
