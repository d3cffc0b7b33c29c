// Package engine 提供 AI 函数执行引擎与结构化输出重试循环
package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KodaTao/LLMFunctions/pkg/function"
	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/logs"
	"github.com/KodaTao/LLMFunctions/pkg/observability"
	"github.com/KodaTao/LLMFunctions/pkg/prompt"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// Config 执行引擎配置
type Config struct {
	// MaxRetries print 参数校验失败的重试上限（计数超过该值即结束）
	MaxRetries int `mapstructure:"max_retries"`

	// MaxCorrections 未调用函数、子函数参数错误的纠正上限
	MaxCorrections int `mapstructure:"max_corrections"`

	// FunctionTimeout 子函数执行超时
	FunctionTimeout time.Duration `mapstructure:"function_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		MaxCorrections:  10,
		FunctionTimeout: 30 * time.Second,
	}
}

// Runner 长期存在的执行器，持有提供商、注册表等依赖
// 每次 Run 创建独立的 Engine，可以并发调用
type Runner struct {
	providers       map[string]llm.Provider
	defaultProvider string
	documents       DocumentRetriever
	logs            *logs.Registry
	functions       *function.Registry
	observer        trace.Observer
	config          Config
	executor        *function.Executor
	prompts         *prompt.Generator
}

// Option Runner 配置选项
type Option func(*Runner)

// WithProvider 添加提供商，第一个添加的成为默认提供商
func WithProvider(p llm.Provider) Option {
	return func(r *Runner) {
		r.providers[p.Name()] = p
		if r.defaultProvider == "" {
			r.defaultProvider = p.Name()
		}
	}
}

// WithNamedProvider 以指定名称添加提供商，ModelParams.Provider 按该名称选择
func WithNamedProvider(name string, p llm.Provider) Option {
	return func(r *Runner) {
		r.providers[name] = p
		if r.defaultProvider == "" {
			r.defaultProvider = name
		}
	}
}

// WithDefaultProvider 设置默认提供商名称
func WithDefaultProvider(name string) Option {
	return func(r *Runner) {
		r.defaultProvider = name
	}
}

// WithDocumentRetriever 设置文档检索器
func WithDocumentRetriever(d DocumentRetriever) Option {
	return func(r *Runner) {
		r.documents = d
	}
}

// WithLogRegistry 设置执行记录注册表
func WithLogRegistry(reg *logs.Registry) Option {
	return func(r *Runner) {
		r.logs = reg
	}
}

// WithFunctionRegistry 设置函数注册表
func WithFunctionRegistry(reg *function.Registry) Option {
	return func(r *Runner) {
		r.functions = reg
	}
}

// WithObserver 设置追踪回调
func WithObserver(o trace.Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithConfig 设置引擎配置，零值字段使用默认值
func WithConfig(cfg Config) Option {
	return func(r *Runner) {
		def := DefaultConfig()
		if cfg.MaxRetries <= 0 {
			cfg.MaxRetries = def.MaxRetries
		}
		if cfg.MaxCorrections <= 0 {
			cfg.MaxCorrections = def.MaxCorrections
		}
		if cfg.FunctionTimeout <= 0 {
			cfg.FunctionTimeout = def.FunctionTimeout
		}
		r.config = cfg
	}
}

// NewRunner 创建 Runner
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		providers: make(map[string]llm.Provider),
		documents: PassthroughRetriever{},
		functions: function.NewRegistry(),
		config:    DefaultConfig(),
		prompts:   prompt.DefaultGenerator,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.executor = function.NewExecutor(r.config.FunctionTimeout)
	return r
}

// Functions 返回函数注册表
func (r *Runner) Functions() *function.Registry {
	return r.functions
}

// Logs 返回执行记录注册表，可能为 nil
func (r *Runner) Logs() *logs.Registry {
	return r.logs
}

// OnCreated 实现 function.CreateNotifier，把新定义注册到函数注册表
func (r *Runner) OnCreated(def *function.Definition) {
	if r.functions != nil {
		r.functions.OnCreated(def)
	}
}

func (r *Runner) provider(name string) (llm.Provider, error) {
	if name == "" {
		name = r.defaultProvider
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Run 执行一次调用，executionID 为空时生成新 ID
// 成功和失败的 Execution 都会交给执行记录注册表
func (r *Runner) Run(ctx context.Context, def *function.Definition, args function.Args, executionID string) (*trace.Execution, error) {
	return r.run(ctx, def, args, executionID, false)
}

// run 执行一次调用
// nested 为 true 时是函数步骤的子调用，子调用记录由上层 Execution 并入后统一记录
func (r *Runner) run(ctx context.Context, def *function.Definition, args function.Args, executionID string, nested bool) (*trace.Execution, error) {
	if def == nil {
		return nil, function.ErrNilDefinition
	}

	start := time.Now()
	exec, err := newEngine(r, def).Run(ctx, args, executionID)

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.ObserveExecution(def.Name(), status)

	if exec != nil {
		logCtx := observability.WithFunctionID(observability.WithExecutionID(ctx, exec.ID), def.ID())
		observability.InfoContext(logCtx, "Function executed",
			"function", def.Name(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if r.logs != nil && !nested {
			if _, lerr := r.logs.Handle(ctx, exec); lerr != nil {
				observability.WarnContext(logCtx, "Failed to record execution", "error", lerr)
			}
		}
	}
	return exec, err
}

// RunDataset 对数据集中的每一项并发执行一次
// 结果按数据集顺序返回；任一调用失败时返回第一个错误，已完成的 Execution 仍保留在结果中
func (r *Runner) RunDataset(ctx context.Context, def *function.Definition) ([]*trace.Execution, error) {
	if def == nil {
		return nil, function.ErrNilDefinition
	}
	dataset := def.Dataset()
	if len(dataset) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDataset, def.Name())
	}

	results := make([]*trace.Execution, len(dataset))
	var g errgroup.Group
	for i, args := range dataset {
		g.Go(func() error {
			exec, err := r.Run(ctx, def, args, "")
			results[i] = exec
			return err
		})
	}
	err := g.Wait()
	return results, err
}

// Replay 按 ID 查找已注册的定义并执行
func (r *Runner) Replay(ctx context.Context, functionID string, args function.Args, executionID string) (*trace.Execution, error) {
	def, err := r.lookup(functionID)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, def, args, executionID)
}

// Evaluate 按 ID 查找已注册的定义并运行其数据集
func (r *Runner) Evaluate(ctx context.Context, functionID string) ([]*trace.Execution, error) {
	def, err := r.lookup(functionID)
	if err != nil {
		return nil, err
	}
	return r.RunDataset(ctx, def)
}

func (r *Runner) lookup(functionID string) (*function.Definition, error) {
	if r.functions == nil {
		return nil, fmt.Errorf("%w: %s", function.ErrFunctionNotFound, functionID)
	}
	def, ok := r.functions.Get(functionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", function.ErrFunctionNotFound, functionID)
	}
	return def, nil
}
