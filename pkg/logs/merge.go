// Package logs 提供执行记录注册表：合并同一 Execution 的多次更新并委托持久化
package logs

import (
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// Merge 将 incoming 合并到 existing 上，返回新的 Execution，不修改参数
//
// incoming 中的非零字段覆盖 existing；FunctionsExecuted 按 FunctionExecutionID 对齐：
// 匹配项以 incoming 为准，仅 existing 有的保留，顺序沿用 existing，未匹配的 incoming 项按序追加。
// Merge(Merge(a, b), b) 与 Merge(a, b) 相等。
func Merge(existing, incoming *trace.Execution) *trace.Execution {
	if existing == nil {
		return incoming.Clone()
	}
	if incoming == nil {
		return existing.Clone()
	}

	out := existing.Clone()
	if incoming.ID != "" {
		out.ID = incoming.ID
	}
	if !incoming.CreatedAt.IsZero() {
		out.CreatedAt = incoming.CreatedAt
	}
	if incoming.FinalResponse != nil {
		out.FinalResponse = incoming.FinalResponse
	}
	if incoming.Verified != nil {
		v := *incoming.Verified
		out.Verified = &v
	}

	in := incoming.Clone()
	index := make(map[string]int, len(out.FunctionsExecuted))
	for i, fe := range out.FunctionsExecuted {
		index[fe.FunctionExecutionID] = i
	}
	for _, fe := range in.FunctionsExecuted {
		if i, ok := index[fe.FunctionExecutionID]; ok {
			out.FunctionsExecuted[i] = fe
			continue
		}
		index[fe.FunctionExecutionID] = len(out.FunctionsExecuted)
		out.FunctionsExecuted = append(out.FunctionsExecuted, fe)
	}
	return out
}
