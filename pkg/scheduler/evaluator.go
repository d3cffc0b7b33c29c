// Package scheduler 提供数据集评估的定时调度功能
package scheduler

import (
	"context"

	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// Evaluator 按函数 ID 运行其数据集
// engine.Runner 实现该接口
type Evaluator interface {
	Evaluate(ctx context.Context, functionID string) ([]*trace.Execution, error)
}

// FunctionLookup 检查函数是否已注册
// function.Registry 实现该接口
type FunctionLookup interface {
	Has(id string) bool
}
