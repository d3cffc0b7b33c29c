// Package logs 提供执行记录注册表：合并同一 Execution 的多次更新并委托持久化
package logs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KodaTao/LLMFunctions/pkg/observability"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

var (
	// ErrExecutionNotFound 找不到指定 Execution
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrInvalidExecution Execution 为空或没有 ID
	ErrInvalidExecution = errors.New("execution must have an id")
)

// Store 持久化存储接口
// 不要求事务性，一致性由 Registry 的合并逻辑保证
type Store interface {
	GetLogs(ctx context.Context) ([]*trace.Execution, error)
	SaveLog(ctx context.Context, exec *trace.Execution) error
}

// Registry 进程内的执行记录集合
// Init 只从 Store 加载一次，之后 Handle 负责追加或合并并写回 Store
type Registry struct {
	mu       sync.Mutex
	store    Store
	once     sync.Once
	initErr  error
	execs    []*trace.Execution
	index    map[string]int
	observer trace.Observer
}

// NewRegistry 创建注册表，store 为 nil 时使用内存存储
func NewRegistry(store Store) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{
		store: store,
		index: make(map[string]int),
	}
}

// OnChange 设置合并后的回调
func (r *Registry) OnChange(observer trace.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = observer
}

// Init 从 Store 加载历史记录，多次调用只加载一次
func (r *Registry) Init(ctx context.Context) error {
	r.once.Do(func() {
		logs, err := r.store.GetLogs(ctx)
		if err != nil {
			r.initErr = fmt.Errorf("load logs: %w", err)
			return
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		for _, exec := range logs {
			if exec == nil {
				continue
			}
			if i, ok := r.index[exec.ID]; ok {
				r.execs[i] = Merge(r.execs[i], exec)
				continue
			}
			r.index[exec.ID] = len(r.execs)
			r.execs = append(r.execs, exec.Clone())
		}
		observability.Info("Execution logs loaded", "count", len(r.execs))
	})
	return r.initErr
}

// Handle 追加新的 Execution，或与已有的同 ID 记录合并，然后持久化
func (r *Registry) Handle(ctx context.Context, exec *trace.Execution) (*trace.Execution, error) {
	if exec == nil || exec.ID == "" {
		return nil, ErrInvalidExecution
	}
	if err := r.Init(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	var result *trace.Execution
	if i, ok := r.index[exec.ID]; ok {
		result = Merge(r.execs[i], exec)
		r.execs[i] = result
	} else {
		result = exec.Clone()
		r.index[exec.ID] = len(r.execs)
		r.execs = append(r.execs, result)
	}
	out := result.Clone()
	observer := r.observer
	r.mu.Unlock()

	if err := r.store.SaveLog(ctx, out); err != nil {
		observability.WarnContext(ctx, "Failed to persist execution", "execution_id", exec.ID, "error", err)
		return out, fmt.Errorf("save log: %w", err)
	}
	if observer != nil {
		observer(out.Clone())
	}
	return out, nil
}

// List 按首次出现顺序返回所有记录
func (r *Registry) List() []*trace.Execution {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*trace.Execution, 0, len(r.execs))
	for _, exec := range r.execs {
		out = append(out, exec.Clone())
	}
	return out
}

// Get 按 ID 获取记录
func (r *Registry) Get(id string) (*trace.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return r.execs[i].Clone(), nil
}
