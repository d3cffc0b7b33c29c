// Package engine 提供 AI 函数执行引擎与结构化输出重试循环
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/KodaTao/LLMFunctions/pkg/function"
	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/observability"
	"github.com/KodaTao/LLMFunctions/pkg/prompt"
	"github.com/KodaTao/LLMFunctions/pkg/prompt/templates"
	"github.com/KodaTao/LLMFunctions/pkg/schema"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// retriever 结构化输出重试循环
//
// retries 只统计 print 参数校验失败，超过 maxRetries 后以 timeout-error 结束并返回校验信息；
// corrections 统计未调用函数和子函数参数校验失败，超过 maxCorrections 返回 ErrCorrectionLimit。
type retriever struct {
	provider       llm.Provider
	params         llm.ModelParams
	functions      []function.SubFunction
	target         schema.Schema
	recorder       *trace.Recorder
	executor       *function.Executor
	prompts        *prompt.Generator
	maxRetries     int
	maxCorrections int
}

// callPayload calling-open-ai 成功时记录的函数调用
type callPayload struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

func (rt *retriever) catalog() []llm.FunctionSpec {
	specs := make([]llm.FunctionSpec, 0, len(rt.functions)+1)
	for _, fn := range rt.functions {
		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if fn.Parameters != nil {
			params = fn.Parameters.JSONSchema()
		}
		specs = append(specs, llm.FunctionSpec{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  params,
		})
	}
	return append(specs, llm.FunctionSpec{
		Name:        templates.PrintFunctionName,
		Description: "Print the final answer. Call this exactly once when the answer is ready.",
		Parameters:  rt.target.JSONSchema(),
	})
}

func (rt *retriever) lookup(name string) (function.SubFunction, bool) {
	for _, fn := range rt.functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return function.SubFunction{}, false
}

// retrieve 运行重试循环直到 print 返回合法结果
func (rt *retriever) retrieve(ctx context.Context, messages []llm.Message) (any, error) {
	catalog := rt.catalog()
	mode := llm.FunctionCallAuto
	if len(rt.functions) == 0 {
		mode = templates.PrintFunctionName
	}
	targetSchema := string(rt.target.JSONSchema())

	retries, corrections := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		actionID, err := rt.recorder.Create(trace.ActionCallingOpenAI, slices.Clone(messages), trace.Loading())
		if err != nil {
			return nil, err
		}

		resp, err := rt.provider.Chat(ctx, llm.ChatRequest{
			Messages:     messages,
			Functions:    catalog,
			FunctionCall: mode,
			Params:       rt.params,
		})
		if err != nil {
			_ = rt.recorder.Update(actionID, trace.Failure(err))
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}

		reply := resp.Message
		reply.Role = llm.RoleAssistant
		messages = append(messages, reply)

		call := reply.FunctionCall
		if call == nil {
			_ = rt.recorder.Update(actionID, trace.Response{
				Status: trace.StatusError,
				Error:  "no function call returned",
				Output: reply.Content,
			})
			observability.ObserveRetrieverOutcome(observability.OutcomeNoFunctionCall)
			observability.RetrieverLog(ctx, observability.OutcomeNoFunctionCall, retries, corrections)

			corrections++
			if corrections > rt.maxCorrections {
				return nil, fmt.Errorf("%w: %d corrections", ErrCorrectionLimit, corrections-1)
			}
			msg, err := rt.prompts.NoFunctionCall(targetSchema)
			if err != nil {
				return nil, err
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: msg})
			continue
		}

		if call.Name == templates.PrintFunctionName {
			value, err := rt.target.Validate(json.RawMessage(call.Arguments))
			if err != nil {
				if retries > rt.maxRetries {
					_ = rt.recorder.Update(actionID, trace.Response{
						Status: trace.StatusTimeoutError,
						Error:  err.Error(),
						Output: call.Arguments,
					})
					observability.ObserveRetrieverOutcome(observability.OutcomeTimeoutError)
					observability.WarnContext(ctx, "Retry budget exhausted", "retries", retries, "error", err)
					return err.Error(), nil
				}

				_ = rt.recorder.Update(actionID, zodError(err, call.Arguments))
				observability.ObserveRetrieverOutcome(observability.OutcomeZodError)
				observability.RetrieverLog(ctx, observability.OutcomeZodError, retries, corrections)

				retries++
				msg, perr := rt.prompts.InvalidArguments(call.Name, targetSchema, err.Error())
				if perr != nil {
					return nil, perr
				}
				messages = append(messages, llm.Message{Role: llm.RoleFunction, Name: call.Name, Content: msg})
				continue
			}

			_ = rt.recorder.Update(actionID, trace.Success(callPayload{Name: call.Name, Arguments: value}))
			observability.ObserveRetrieverOutcome(observability.OutcomeSuccess)
			messages = append(messages, llm.Message{
				Role:    llm.RoleFunction,
				Name:    call.Name,
				Content: templates.PrintSucceeded,
			})
			return value, nil
		}

		fn, ok := rt.lookup(call.Name)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrUnknownFunction, call.Name)
			_ = rt.recorder.Update(actionID, trace.Failure(err))
			return nil, err
		}

		params, err := validateArguments(fn.Parameters, call.Arguments)
		if err != nil {
			_ = rt.recorder.Update(actionID, zodError(err, call.Arguments))
			observability.ObserveRetrieverOutcome(observability.OutcomeZodError)
			observability.RetrieverLog(ctx, observability.OutcomeZodError, retries, corrections)

			corrections++
			if corrections > rt.maxCorrections {
				return nil, fmt.Errorf("%w: %d corrections", ErrCorrectionLimit, corrections-1)
			}
			schemaText := "{}"
			if fn.Parameters != nil {
				schemaText = string(fn.Parameters.JSONSchema())
			}
			msg, perr := rt.prompts.InvalidArguments(call.Name, schemaText, err.Error())
			if perr != nil {
				return nil, perr
			}
			messages = append(messages, llm.Message{Role: llm.RoleFunction, Name: call.Name, Content: msg})
			continue
		}

		_ = rt.recorder.Update(actionID, trace.Success(callPayload{Name: call.Name, Arguments: params}))
		observability.ObserveRetrieverOutcome(observability.OutcomeFunctionCall)

		messages = append(messages, llm.Message{
			Role:    llm.RoleFunction,
			Name:    call.Name,
			Content: rt.callFunction(ctx, fn, params),
		})
	}
}

// callFunction 执行子函数，错误信息作为返回内容交给模型
func (rt *retriever) callFunction(ctx context.Context, fn function.SubFunction, params any) string {
	callID, err := rt.recorder.Create(trace.ActionCallingFunction, callPayload{Name: fn.Name, Arguments: params}, trace.Loading())
	if err != nil {
		return err.Error()
	}

	out, err := rt.executor.Execute(ctx, fn, params)
	if err != nil {
		_ = rt.recorder.Update(callID, trace.Failure(err))
		return "Error: " + err.Error()
	}
	_ = rt.recorder.Update(callID, trace.Success(out))
	return out
}

func validateArguments(s schema.Schema, raw string) (any, error) {
	if s != nil {
		return s.Validate(json.RawMessage(raw))
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &schema.ValidationError{Message: fmt.Sprintf("invalid arguments: %v", err), Output: raw}
	}
	return v, nil
}

func zodError(err error, output string) trace.Response {
	return trace.Response{
		Status: trace.StatusZodError,
		Error:  err.Error(),
		Output: output,
	}
}
