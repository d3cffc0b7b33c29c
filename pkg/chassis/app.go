// Package chassis 提供 LLMFunctions 应用装配与配置
package chassis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/KodaTao/LLMFunctions/pkg/engine"
	"github.com/KodaTao/LLMFunctions/pkg/function"
	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/llm/openai"
	"github.com/KodaTao/LLMFunctions/pkg/logs"
	"github.com/KodaTao/LLMFunctions/pkg/manifest"
	"github.com/KodaTao/LLMFunctions/pkg/observability"
	"github.com/KodaTao/LLMFunctions/pkg/scheduler"
	"github.com/KodaTao/LLMFunctions/pkg/storage"
	"github.com/KodaTao/LLMFunctions/pkg/storage/redisstore"
)

var (
	// ErrUnsupportedProvider 不支持的提供商类型
	ErrUnsupportedProvider = errors.New("unsupported LLM provider")
	// ErrNotInitialized 尚未调用 Initialize
	ErrNotInitialized = errors.New("app is not initialized")
)

// App LLMFunctions 应用实例
// 持有函数注册表、执行记录注册表、Runner 和可选的定时评估调度器
type App struct {
	config    *Config
	functions *function.Registry
	providers map[string]llm.Provider
	logStore  logs.Store
	logs      *logs.Registry
	runner    *engine.Runner
	scheduler *scheduler.CronScheduler
	closers   []func() error
	usesDB    bool
}

// New 创建新的 App 实例
func New(opts ...Option) *App {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	return &App{
		config:    config,
		functions: function.NewRegistry(),
		providers: make(map[string]llm.Provider),
	}
}

// AddProvider 在 Initialize 之前注入提供商，注入后不再从配置创建
func (a *App) AddProvider(name string, p llm.Provider) {
	a.providers[name] = p
}

// Initialize 初始化应用
// 包括：日志、数据库、执行记录存储、LLM Provider、Runner、函数清单、调度器
func (a *App) Initialize(ctx context.Context) error {
	// 1. 初始化日志
	if err := observability.InitLogger(observability.LogConfig{
		Level:    a.config.Log.Level,
		Format:   a.config.Log.Format,
		Output:   a.config.Log.Output,
		FilePath: a.config.Log.FilePath,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	observability.Info("Initializing LLMFunctions",
		"server_port", a.config.Server.Port,
		"llm_provider", a.config.LLM.Provider,
		"llm_model", a.config.LLM.Model,
		"log_store", a.config.LogStore.Backend,
	)

	// 2. 初始化数据库（sqlite 存储或调度器需要）
	if a.config.LogStore.Backend == LogStoreSQLite || a.config.Scheduler.Enabled {
		if err := storage.InitDB(storage.Config{Path: a.config.Database.Path}); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.usesDB = true
	}

	// 3. 执行记录存储
	store, closer, err := OpenLogStore(a.config)
	if err != nil {
		return err
	}
	a.logStore = store
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.logs = logs.NewRegistry(store)
	if err := a.logs.Init(ctx); err != nil {
		return fmt.Errorf("failed to load execution logs: %w", err)
	}

	// 4. 初始化 LLM Provider
	defaultName, err := a.initProviders()
	if err != nil {
		return err
	}

	// 5. 创建 Runner
	opts := []engine.Option{
		engine.WithLogRegistry(a.logs),
		engine.WithFunctionRegistry(a.functions),
		engine.WithConfig(engine.Config{
			MaxRetries:      a.config.Engine.MaxRetries,
			MaxCorrections:  a.config.Engine.MaxCorrections,
			FunctionTimeout: a.config.Engine.FunctionTimeout,
		}),
	}
	names := make([]string, 0, len(a.providers))
	for name := range a.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, engine.WithNamedProvider(name, a.providers[name]))
	}
	opts = append(opts, engine.WithDefaultProvider(defaultName))
	a.runner = engine.NewRunner(opts...)

	// 6. 加载函数清单
	if dir := a.config.Manifests.Dir; dir != "" {
		defs, err := a.LoadManifests(dir)
		if err != nil {
			return err
		}
		observability.Info("Manifests loaded", "dir", dir, "count", len(defs))
	}

	// 7. 定时评估
	if a.config.Scheduler.Enabled {
		a.scheduler = scheduler.NewCronScheduler(storage.GetDB(), a.runner,
			scheduler.WithFunctionLookup(a.functions),
			scheduler.WithRunTimeout(a.config.Scheduler.RunTimeout),
			scheduler.WithLogger(observability.DefaultLogger()),
		)
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	observability.Info("LLMFunctions initialized",
		"providers", names,
		"default_provider", defaultName,
		"registered_functions", a.functions.Count(),
		"executions", len(a.logs.List()),
	)
	return nil
}

// initProviders 从配置创建提供商，返回默认提供商名称
func (a *App) initProviders() (string, error) {
	defaultName := a.config.LLM.Provider
	if defaultName == "" {
		defaultName = "openai"
	}

	if len(a.providers) > 0 {
		if _, ok := a.providers[defaultName]; !ok && len(a.providers) == 1 {
			for name := range a.providers {
				defaultName = name
			}
		}
		return defaultName, nil
	}

	p, err := newProvider(a.config.LLM)
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", defaultName, err)
	}
	a.providers[defaultName] = p

	for name, cfg := range a.config.Providers {
		p, err := newProvider(cfg)
		if err != nil {
			return "", fmt.Errorf("provider %s: %w", name, err)
		}
		a.providers[name] = p
	}
	return defaultName, nil
}

func newProvider(cfg llm.Config) (llm.Provider, error) {
	cfg.APIKey = llm.ResolveAPIKey(cfg.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "", "openai", "azure", "custom":
		observability.Info("LLM Provider initialized",
			"provider", cfg.Provider,
			"model", cfg.Model,
			"api_key", llm.MaskAPIKey(cfg.APIKey),
		)
		return openai.NewProviderFromLLMConfig(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

// OpenLogStore 按配置打开执行记录存储
// sqlite 后端要求已调用 storage.InitDB
func OpenLogStore(cfg *Config) (logs.Store, func() error, error) {
	switch cfg.LogStore.Backend {
	case "", LogStoreMemory:
		return logs.NewMemoryStore(), nil, nil
	case LogStoreSQLite:
		store, err := storage.NewLogStore(storage.GetDB())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite log store: %w", err)
		}
		return store, nil, nil
	case LogStoreRedis:
		r := cfg.LogStore.Redis
		opts := []redisstore.Option{redisstore.WithTTL(r.TTL)}
		if r.Prefix != "" {
			opts = append(opts, redisstore.WithPrefix(r.Prefix))
		}
		store := redisstore.New(r.Addr, r.Password, r.DB, opts...)
		observability.Info("Redis log store configured", "addr", r.Addr, "db", r.DB)
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported log store backend: %s", cfg.LogStore.Backend)
	}
}

// LoadManifests 加载目录中的函数清单并注册
func (a *App) LoadManifests(dir string) ([]*function.Definition, error) {
	ms, err := manifest.LoadDir(dir)
	if err != nil {
		return nil, err
	}

	defs := make([]*function.Definition, 0, len(ms))
	for _, m := range ms {
		def, err := a.CreateFromManifest(m)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// CreateFromManifest 从清单创建函数定义并注册
func (a *App) CreateFromManifest(m *manifest.Manifest) (*function.Definition, error) {
	if a.runner == nil {
		return nil, ErrNotInitialized
	}
	def, _, err := m.Create(a.runner)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", m.Name, err)
	}
	observability.Debug("Function registered", "name", def.Name(), "id", def.ID(), "source", m.Path)
	return def, nil
}

// Runner 获取执行器
func (a *App) Runner() *engine.Runner {
	return a.runner
}

// Functions 获取函数注册表
func (a *App) Functions() *function.Registry {
	return a.functions
}

// Logs 获取执行记录注册表
func (a *App) Logs() *logs.Registry {
	return a.logs
}

// Scheduler 获取定时评估调度器，未启用时为 nil
func (a *App) Scheduler() *scheduler.CronScheduler {
	return a.scheduler
}

// Config 获取配置
func (a *App) Config() *Config {
	return a.config
}

// Shutdown 关闭应用
func (a *App) Shutdown() error {
	observability.Info("Shutting down LLMFunctions")

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	var errs []error
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}

	if a.usesDB {
		if err := storage.Close(); err != nil {
			observability.Error("Failed to close database", "error", err)
			errs = append(errs, err)
		}
	}

	observability.Info("LLMFunctions shutdown complete")
	return errors.Join(errs...)
}
