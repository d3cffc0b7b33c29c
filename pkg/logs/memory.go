// Package logs 提供执行记录注册表：合并同一 Execution 的多次更新并委托持久化
package logs

import (
	"context"
	"slices"
	"sync"

	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// MemoryStore 进程内存储
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	logs  map[string]*trace.Execution
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(seed ...*trace.Execution) *MemoryStore {
	s := &MemoryStore{logs: make(map[string]*trace.Execution)}
	for _, exec := range seed {
		_ = s.SaveLog(context.Background(), exec)
	}
	return s
}

// GetLogs 实现 Store，按创建时间排序
func (s *MemoryStore) GetLogs(ctx context.Context) ([]*trace.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*trace.Execution, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.logs[id].Clone())
	}
	slices.SortStableFunc(out, func(a, b *trace.Execution) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// SaveLog 实现 Store，同 ID 覆盖
func (s *MemoryStore) SaveLog(ctx context.Context, exec *trace.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[exec.ID]; !ok {
		s.order = append(s.order, exec.ID)
	}
	s.logs[exec.ID] = exec.Clone()
	return nil
}
