// Package openai 提供 OpenAI Chat Completions 客户端实现
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/observability"
)

// ErrNoChoices 响应中没有候选回复
var ErrNoChoices = errors.New("no choices in response")

// APIError 接口返回的非 200 错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Provider OpenAI 提供商实现
type Provider struct {
	config     *Config
	httpClient *http.Client
}

// Config OpenAI 配置
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 60 * time.Second,
	}
}

// modelDefaults 未在请求中指定的模型参数
func (c *Config) modelDefaults() llm.Config {
	return llm.Config{
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
}

// NewProvider 创建 OpenAI Provider
func NewProvider(cfg *Config) *Provider {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Provider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// NewProviderFromLLMConfig 从通用 LLM 配置创建 Provider
func NewProviderFromLLMConfig(cfg llm.Config) *Provider {
	return NewProvider(&Config{
		APIKey:      llm.ResolveAPIKey(cfg.APIKey),
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
}

// Name 返回提供商名称
func (p *Provider) Name() string {
	return "openai"
}

// Chat 发送对话请求
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	body := p.buildRequest(req)
	observability.LLMRequestLog(ctx, p.Name(), body.Model, len(req.Messages))

	resp, err := p.do(ctx, body)
	duration := time.Since(start)
	if err != nil {
		observability.ObserveProviderRequest(p.Name(), "error", duration)
		return nil, err
	}
	observability.ObserveProviderRequest(p.Name(), "success", duration)

	observability.LLMResponseLog(ctx, p.Name(), duration.Milliseconds(), map[string]int{
		"prompt":     resp.Usage.PromptTokens,
		"completion": resp.Usage.CompletionTokens,
		"total":      resp.Usage.TotalTokens,
	})
	return resp, nil
}

func (p *Provider) do(ctx context.Context, body *chatRequest) (*llm.ChatResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	msg := chatResp.Choices[0].Message
	out := &llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: msg.Content,
		},
		Usage: llm.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}
	// 每轮只处理第一个函数调用
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		out.Message.FunctionCall = &llm.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}
	return out, nil
}

// buildRequest 转换为 Chat Completions 请求体
func (p *Provider) buildRequest(req llm.ChatRequest) *chatRequest {
	params := p.config.modelDefaults().Merge(req.Params)
	body := &chatRequest{
		Model:       params.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
	}

	for _, fn := range req.Functions {
		body.Tools = append(body.Tools, toolSpec{
			Type: "function",
			Function: functionSpec{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = convertToolChoice(req.FunctionCall)
	}
	return body
}

// convertMessages 转换消息格式
// 函数调用转换为 tool_calls，函数返回值转换为引用上一个调用 ID 的 tool 消息
func convertMessages(messages []llm.Message) []chatMessage {
	result := make([]chatMessage, 0, len(messages))
	lastCallID := ""

	for i, m := range messages {
		cm := chatMessage{Role: string(m.Role)}

		switch m.Role {
		case llm.RoleAssistant:
			if m.Content != "" {
				cm.Content = m.Content
			}
			if m.FunctionCall != nil {
				id := m.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", i)
				}
				lastCallID = id
				cm.ToolCalls = []toolCall{{
					ID:   id,
					Type: "function",
					Function: functionCall{
						Name:      m.FunctionCall.Name,
						Arguments: m.FunctionCall.Arguments,
					},
				}}
			}
		case llm.RoleFunction:
			cm.Role = "tool"
			cm.ToolCallID = lastCallID
			cm.Content = m.Content
		default:
			cm.Content = m.Content
			cm.Name = m.Name
		}

		result = append(result, cm)
	}
	return result
}

func convertToolChoice(mode string) any {
	switch mode {
	case "", llm.FunctionCallAuto:
		return llm.FunctionCallAuto
	default:
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": mode},
		}
	}
}

// API 请求/响应结构

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Tools       []toolSpec    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
