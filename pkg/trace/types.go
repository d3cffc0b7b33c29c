// Package trace 提供 Execution 执行记录与 Action 追踪模型
package trace

import (
	"encoding/json"
	"slices"
	"time"
)

// ActionType Action 类型
type ActionType string

const (
	ActionLog               ActionType = "log"
	ActionExecutingFunction ActionType = "executing-function"
	ActionQuery             ActionType = "query"
	ActionCallingFunction   ActionType = "calling-function"
	ActionCallingOpenAI     ActionType = "calling-open-ai"
	ActionGetDocument       ActionType = "get-document"
)

// Status Action 响应状态
type Status string

const (
	StatusLoading      Status = "loading"
	StatusSuccess      Status = "success"
	StatusError        Status = "error"
	StatusZodError     Status = "zod-error"
	StatusTimeoutError Status = "timeout-error"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s != StatusLoading && s != ""
}

// Response Action 响应
type Response struct {
	Status Status `json:"status"`

	// Data 成功时的返回数据
	Data any `json:"data,omitempty"`

	// Error 失败时的错误信息
	Error string `json:"error,omitempty"`

	// Output zod-error 时模型的原始输出
	Output string `json:"output,omitempty"`
}

// Loading 返回 loading 状态响应
func Loading() Response {
	return Response{Status: StatusLoading}
}

// Success 返回 success 状态响应
func Success(data any) Response {
	return Response{Status: StatusSuccess, Data: data}
}

// Failure 返回 error 状态响应
func Failure(err error) Response {
	return Response{Status: StatusError, Error: err.Error()}
}

// Action 追踪记录中的一步
type Action struct {
	ID        string     `json:"id"`
	Type      ActionType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`

	// Payload 随类型变化的请求内容
	Payload any `json:"payload,omitempty"`

	Response Response `json:"response"`
}

// FunctionExecution 一次（子）调用的记录
type FunctionExecution struct {
	FunctionExecutionID string   `json:"functionExecutionId"`
	Inputs              any      `json:"inputs,omitempty"`
	Trace               []Action `json:"trace"`
	FinalResponse       any      `json:"finalResponse,omitempty"`

	// FunctionID 产生本记录的函数定义 ID
	FunctionID string `json:"functionId,omitempty"`

	// Definition 函数定义快照
	Definition json.RawMessage `json:"functionDefinition,omitempty"`
}

// Execution 一次顶层调用的执行记录
type Execution struct {
	ID                string              `json:"id"`
	CreatedAt         time.Time           `json:"createdAt"`
	FunctionsExecuted []FunctionExecution `json:"functionsExecuted"`
	FinalResponse     any                 `json:"finalResponse,omitempty"`
	Verified          *bool               `json:"verified,omitempty"`
}

// Observer 进度回调，每次追踪变化后同步调用
type Observer func(*Execution)

// Clone 返回深拷贝（FinalResponse / Payload 等任意值按引用共享）
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	if e.Verified != nil {
		v := *e.Verified
		out.Verified = &v
	}
	if e.FunctionsExecuted == nil {
		return &out
	}
	out.FunctionsExecuted = make([]FunctionExecution, len(e.FunctionsExecuted))
	for i, fe := range e.FunctionsExecuted {
		fe.Trace = slices.Clone(fe.Trace)
		fe.Definition = slices.Clone(fe.Definition)
		out.FunctionsExecuted[i] = fe
	}
	return &out
}

// Find 按 ID 查找子调用记录
func (e *Execution) Find(functionExecutionID string) (*FunctionExecution, bool) {
	for i := range e.FunctionsExecuted {
		if e.FunctionsExecuted[i].FunctionExecutionID == functionExecutionID {
			return &e.FunctionsExecuted[i], true
		}
	}
	return nil, false
}
