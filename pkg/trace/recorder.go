// Package trace 提供 Execution 执行记录与 Action 追踪模型
package trace

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoActiveExecution 没有正在进行的调用时修改追踪（编程错误）
	ErrNoActiveExecution = errors.New("no active execution")
	// ErrActionNotFound 当前子调用中找不到指定 Action
	ErrActionNotFound = errors.New("action not found")
	// ErrActionSettled Action 已处于终态，不能再次更新
	ErrActionSettled = errors.New("action already settled")
)

// Recorder 追踪记录器
// 每次调用持有一个 Recorder，所有追踪写入当前活动的子调用记录
type Recorder struct {
	mu       sync.Mutex
	exec     *Execution
	activeID string
	observer Observer
	now      func() time.Time
}

// NewRecorder 创建记录器
func NewRecorder(observer Observer) *Recorder {
	return &Recorder{
		observer: observer,
		now:      time.Now,
	}
}

// Begin 设置活动 Execution 和子调用 ID
// 子调用记录不存在时追加
func (r *Recorder) Begin(exec *Execution, sub FunctionExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := exec.Find(sub.FunctionExecutionID); !ok {
		if sub.Trace == nil {
			sub.Trace = []Action{}
		}
		exec.FunctionsExecuted = append(exec.FunctionsExecuted, sub)
	}
	r.exec = exec
	r.activeID = sub.FunctionExecutionID
}

// Execution 返回活动 Execution
func (r *Recorder) Execution() *Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec
}

// Create 追加一个 Action 并返回生成的 ID
func (r *Recorder) Create(actionType ActionType, payload any, resp Response) (string, error) {
	r.mu.Lock()
	sub, err := r.active()
	if err != nil {
		r.mu.Unlock()
		return "", err
	}

	action := Action{
		ID:        uuid.NewString(),
		Type:      actionType,
		Timestamp: r.now(),
		Payload:   payload,
		Response:  resp,
	}
	sub.Trace = append(sub.Trace, action)
	snapshot := r.exec.Clone()
	r.mu.Unlock()

	r.notify(snapshot)
	return action.ID, nil
}

// Update 将 loading 状态的 Action 更新为终态
func (r *Recorder) Update(id string, resp Response) error {
	r.mu.Lock()
	sub, err := r.active()
	if err != nil {
		r.mu.Unlock()
		return err
	}

	idx := -1
	for i := range sub.Trace {
		if sub.Trace[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if sub.Trace[idx].Response.Status != StatusLoading {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActionSettled, id)
	}

	sub.Trace[idx].Response = resp
	snapshot := r.exec.Clone()
	r.mu.Unlock()

	r.notify(snapshot)
	return nil
}

// Resolve 设置活动子调用与 Execution 的最终结果（不产生新的 Action）
func (r *Recorder) Resolve(result any) error {
	r.mu.Lock()
	sub, err := r.active()
	if err != nil {
		r.mu.Unlock()
		return err
	}

	sub.FinalResponse = result
	r.exec.FinalResponse = result
	snapshot := r.exec.Clone()
	r.mu.Unlock()

	r.notify(snapshot)
	return nil
}

// SetVerified 记录校验结果
func (r *Recorder) SetVerified(ok bool) error {
	r.mu.Lock()
	if r.exec == nil {
		r.mu.Unlock()
		return ErrNoActiveExecution
	}
	r.exec.Verified = &ok
	snapshot := r.exec.Clone()
	r.mu.Unlock()

	r.notify(snapshot)
	return nil
}

// Attach 并入同一 Execution 下其它调用产生的子调用记录
// 已存在的记录按 ID 覆盖，活动子调用保持不变
func (r *Recorder) Attach(subs ...FunctionExecution) {
	r.mu.Lock()
	if r.exec == nil {
		r.mu.Unlock()
		return
	}
	for _, sub := range subs {
		if sub.FunctionExecutionID == r.activeID {
			continue
		}
		if existing, ok := r.exec.Find(sub.FunctionExecutionID); ok {
			*existing = sub
			continue
		}
		r.exec.FunctionsExecuted = append(r.exec.FunctionsExecuted, sub)
	}
	snapshot := r.exec.Clone()
	r.mu.Unlock()

	r.notify(snapshot)
}

// Log 追加一条 log 类型的 Action
func (r *Recorder) Log(message string) error {
	_, err := r.Create(ActionLog, message, Success(nil))
	return err
}

func (r *Recorder) active() (*FunctionExecution, error) {
	if r.exec == nil || r.activeID == "" {
		return nil, ErrNoActiveExecution
	}
	sub, ok := r.exec.Find(r.activeID)
	if !ok {
		return nil, ErrNoActiveExecution
	}
	return sub, nil
}

func (r *Recorder) notify(snapshot *Execution) {
	if r.observer != nil {
		r.observer(snapshot)
	}
}
