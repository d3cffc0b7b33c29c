// Package llm 提供模型调用的请求/响应契约
package llm

import (
	"context"
	"encoding/json"
)

// Provider 模型提供商接口
// 一次调用对应一次请求/响应，不支持流式输出
type Provider interface {
	// Chat 发送对话请求
	// 请求中携带候选函数目录，响应为文本或一个函数调用
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Name 返回提供商名称
	Name() string
}

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleFunction 函数返回值消息
	RoleFunction Role = "function"
)

// Message 对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// Name 函数返回值消息对应的函数名
	Name string `json:"name,omitempty"`

	// FunctionCall 助手消息中的函数调用
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// FunctionCall 模型给出的函数调用
type FunctionCall struct {
	// ID 提供商分配的调用 ID（可能为空）
	ID string `json:"id,omitempty"`

	// Name 函数名
	Name string `json:"name"`

	// Arguments JSON 字符串形式的参数
	Arguments string `json:"arguments"`
}

// FunctionSpec 候选函数目录项
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// FunctionCallAuto 由模型自行决定调用哪个函数
const FunctionCallAuto = "auto"

// ChatRequest 对话请求
type ChatRequest struct {
	Messages  []Message      `json:"messages"`
	Functions []FunctionSpec `json:"functions,omitempty"`

	// FunctionCall 函数选择模式："auto" 或强制调用的函数名
	FunctionCall string `json:"function_call,omitempty"`

	// Params 模型参数
	Params ModelParams `json:"params"`
}

// ChatResponse 对话响应
type ChatResponse struct {
	// Message 助手回复，Content 与 FunctionCall 至少一个非空
	Message Message `json:"message"`

	// Usage Token 使用统计
	Usage Usage `json:"usage"`
}

// ModelParams 函数定义中的模型参数
type ModelParams struct {
	// Provider 提供商名称，为空时使用默认提供商
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty" mapstructure:"provider"`

	// Model 模型名称，为空时使用提供商配置
	Model string `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`

	// Temperature 温度参数（0-2）
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" mapstructure:"temperature"`

	// MaxTokens 最大 Token 数
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`

	// TopP nucleus sampling
	TopP *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty" mapstructure:"top_p"`
}

// Config LLM 提供商配置
type Config struct {
	// Provider 提供商类型：openai, custom
	Provider string `mapstructure:"provider"`

	// APIKey API 密钥
	APIKey string `mapstructure:"api_key"`

	// BaseURL API 基础 URL（用于自定义 endpoint）
	BaseURL string `mapstructure:"base_url"`

	// Model 模型名称
	Model string `mapstructure:"model"`

	// Timeout 请求超时时间（秒）
	Timeout int `mapstructure:"timeout"`

	// MaxTokens 最大 Token 数
	MaxTokens int `mapstructure:"max_tokens"`

	// Temperature 温度参数（0-2）
	Temperature float64 `mapstructure:"temperature"`
}

// Usage Token 使用统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Float 返回 f 的指针，用于设置可选模型参数
func Float(f float64) *float64 {
	return &f
}
