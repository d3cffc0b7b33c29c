// Package function 提供 AI 函数定义模型、构建器和注册表
package function

import (
	"context"
	"fmt"
	"time"

	"github.com/KodaTao/LLMFunctions/pkg/observability"
)

// Executor 子函数执行器
// 封装超时控制与 panic 恢复
type Executor struct {
	timeout time.Duration
}

// NewExecutor 创建子函数执行器
func NewExecutor(timeout time.Duration) *Executor {
	if timeout == 0 {
		timeout = 30 * time.Second // 默认超时 30 秒
	}
	return &Executor{timeout: timeout}
}

// Execute 执行子函数，params 为校验后的参数
func (e *Executor) Execute(ctx context.Context, fn SubFunction, params any) (string, error) {
	if fn.Call == nil {
		return "", fmt.Errorf("sub-function %s has no implementation", fn.Name)
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.executeWithRecover(execCtx, fn, params)

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.FunctionCallLog(ctx, fn.Name, status, time.Since(start).Milliseconds())
	return result, err
}

// executeWithRecover 执行子函数并恢复 panic
func (e *Executor) executeWithRecover(ctx context.Context, fn SubFunction, params any) (string, error) {
	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out.err = fmt.Errorf("function panicked: %v", r)
				observability.Error("Function panicked", "function", fn.Name, "panic", r)
			}
			done <- out
		}()
		out.result, out.err = fn.Call(ctx, params)
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return "", fmt.Errorf("function execution timeout: %w", ctx.Err())
	}
}
