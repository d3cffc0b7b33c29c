// Package llmtest 提供测试用的 Provider
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/KodaTao/LLMFunctions/pkg/llm"
)

// ErrScriptExhausted 脚本中的回复已用完
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Provider 按脚本或回调返回回复
type Provider struct {
	// Respond 不为空时优先使用
	Respond func(req llm.ChatRequest) (llm.Message, error)

	mu       sync.Mutex
	name     string
	replies  []llm.Message
	requests []llm.ChatRequest
}

// New 创建按顺序返回 replies 的 Provider
func New(name string, replies ...llm.Message) *Provider {
	return &Provider{name: name, replies: replies}
}

// Name 实现 llm.Provider
func (p *Provider) Name() string { return p.name }

// Chat 实现 llm.Provider
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)

	if p.Respond != nil {
		msg, err := p.Respond(req)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Message: msg}, nil
	}
	if len(p.replies) == 0 {
		return nil, ErrScriptExhausted
	}
	msg := p.replies[0]
	p.replies = p.replies[1:]
	return &llm.ChatResponse{Message: msg}, nil
}

// Requests 返回收到的请求
func (p *Provider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

// Call 构造一次函数调用回复
func Call(name, arguments string) llm.Message {
	return llm.Message{
		Role:         llm.RoleAssistant,
		FunctionCall: &llm.FunctionCall{Name: name, Arguments: arguments},
	}
}

// Print 构造一次 print 调用，argument 为 v 的 JSON
func Print(v any) llm.Message {
	data, err := json.Marshal(map[string]any{"argument": v})
	if err != nil {
		panic(err)
	}
	return Call("print", string(data))
}
