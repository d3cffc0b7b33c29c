package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/LLMFunctions/pkg/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProvider(&Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"})
}

func TestChatFunctionCall(t *testing.T) {
	var sent map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "print", "arguments": "{\"argument\":\"hi\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})

	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
		Functions: []llm.FunctionSpec{{
			Name:       "print",
			Parameters: json.RawMessage(`{"type":"object"}`),
		}},
		FunctionCall: "print",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Message.FunctionCall)
	assert.Equal(t, "call_abc", resp.Message.FunctionCall.ID)
	assert.Equal(t, "print", resp.Message.FunctionCall.Name)
	assert.Equal(t, `{"argument":"hi"}`, resp.Message.FunctionCall.Arguments)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-test", sent["model"])
	assert.Equal(t, map[string]any{
		"type":     "function",
		"function": map[string]any{"name": "print"},
	}, sent["tool_choice"])
	tools := sent["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "function", tools[0].(map[string]any)["type"])
}

func TestChatAPIError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	})

	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate limited", apiErr.Message)
}

func TestChatNoChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := p.Chat(context.Background(), llm.ChatRequest{})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestConvertMessages(t *testing.T) {
	msgs := convertMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "system"},
		{Role: llm.RoleAssistant, FunctionCall: &llm.FunctionCall{Name: "lookup", Arguments: `{}`}},
		{Role: llm.RoleFunction, Name: "lookup", Content: "42"},
	})
	require.Len(t, msgs, 3)

	assert.Equal(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[1].ToolCalls[0].ID)

	assert.Equal(t, "tool", msgs[2].Role)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Equal(t, "42", msgs[2].Content)
}

func TestBuildRequestParams(t *testing.T) {
	p := NewProvider(&Config{Model: "default-model", MaxTokens: 100, Temperature: 0.2})

	body := p.buildRequest(llm.ChatRequest{
		Params: llm.ModelParams{Model: "override", Temperature: llm.Float(0.9)},
	})
	assert.Equal(t, "override", body.Model)
	assert.Equal(t, 100, body.MaxTokens)
	require.NotNil(t, body.Temperature)
	assert.InDelta(t, 0.9, *body.Temperature, 1e-9)
	assert.Nil(t, body.ToolChoice)

	body = p.buildRequest(llm.ChatRequest{
		Functions:    []llm.FunctionSpec{{Name: "a"}},
		FunctionCall: llm.FunctionCallAuto,
	})
	assert.Equal(t, "default-model", body.Model)
	assert.Equal(t, "auto", body.ToolChoice)
	require.NotNil(t, body.Temperature)
	assert.InDelta(t, 0.2, *body.Temperature, 1e-9)

	body = p.buildRequest(llm.ChatRequest{Params: llm.ModelParams{MaxTokens: 20}})
	assert.Equal(t, 20, body.MaxTokens)
}
