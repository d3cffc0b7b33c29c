// Package function 提供 AI 函数定义模型、构建器和注册表
package function

import (
	"errors"
	"sort"
	"sync"

	"github.com/KodaTao/LLMFunctions/pkg/observability"
)

// Registry 函数定义注册表
// 按内容哈希 ID 索引，线程安全
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	byName  map[string]string
	ordered []string
}

// NewRegistry 创建新的注册表
func NewRegistry() *Registry {
	return &Registry{
		defs:   make(map[string]*Definition),
		byName: make(map[string]string),
	}
}

// Register 注册一个已创建的定义
// 相同 ID 重复注册是幂等的；同名的新定义会成为 GetByName 的结果
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return ErrNilDefinition
	}
	id := def.ID()
	if id == "" {
		return ErrMissingID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defs[id]; !ok {
		r.ordered = append(r.ordered, id)
	}
	r.defs[id] = def
	if def.Name() != "" {
		r.byName[def.Name()] = id
	}
	observability.Info("Function registered", "id", id, "name", def.Name())
	return nil
}

// OnCreated 实现 CreateNotifier
func (r *Registry) OnCreated(def *Definition) {
	if err := r.Register(def); err != nil {
		observability.Warn("Function registration failed", "name", def.Name(), "error", err)
	}
}

// Get 按 ID 获取定义
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[id]
	return def, ok
}

// Has 检查 ID 是否已注册
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// GetByName 按名称获取最近注册的定义
func (r *Registry) GetByName(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	def, ok := r.defs[id]
	return def, ok
}

// List 按注册顺序列出所有定义
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.ordered))
	for _, id := range r.ordered {
		defs = append(defs, r.defs[id])
	}
	return defs
}

// ListInfo 列出所有定义的元信息（按名称排序）
func (r *Registry) ListInfo() []FunctionInfo {
	defs := r.List()
	infos := make([]FunctionInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, def.Info())
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Unregister 注销一个定义
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[id]
	if !ok {
		return false
	}
	delete(r.defs, id)
	if r.byName[def.Name()] == id {
		delete(r.byName, def.Name())
	}
	for i, v := range r.ordered {
		if v == id {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
	observability.Info("Function unregistered", "id", id)
	return true
}

// Count 返回已注册的定义数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.defs)
}

// 错误定义
var (
	ErrNilDefinition    = errors.New("definition cannot be nil")
	ErrMissingID        = errors.New("definition has no id, call Create first")
	ErrFunctionNotFound = errors.New("function not found")
)
