// Package engine 提供 AI 函数执行引擎与结构化输出重试循环
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KodaTao/LLMFunctions/pkg/function"
	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/observability"
	"github.com/KodaTao/LLMFunctions/pkg/prompt"
	"github.com/KodaTao/LLMFunctions/pkg/schema"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// Engine 单次调用的执行引擎
// 持有当前活动的 Execution，不能在并发调用之间共享
type Engine struct {
	runner   *Runner
	def      *function.Definition
	recorder *trace.Recorder
}

func newEngine(r *Runner, def *function.Definition) *Engine {
	return &Engine{
		runner:   r,
		def:      def,
		recorder: trace.NewRecorder(r.observer),
	}
}

// executingPayload executing-function Action 的请求内容
type executingPayload struct {
	Function string        `json:"function"`
	Args     function.Args `json:"args"`
}

// Run 执行一次调用
// 返回的 Execution 在失败时同样包含已记录的追踪
func (e *Engine) Run(ctx context.Context, args function.Args, executionID string) (*trace.Execution, error) {
	if executionID == "" {
		executionID = uuid.NewString()
	}
	ctx = observability.WithExecutionID(ctx, executionID)
	ctx = observability.WithFunctionID(ctx, e.def.ID())

	snapshot, err := json.Marshal(e.def)
	if err != nil {
		return nil, fmt.Errorf("snapshot definition: %w", err)
	}

	exec := &trace.Execution{
		ID:                executionID,
		CreatedAt:         time.Now(),
		FunctionsExecuted: []trace.FunctionExecution{},
	}
	e.recorder.Begin(exec, trace.FunctionExecution{
		FunctionExecutionID: uuid.NewString(),
		Inputs:              args,
		FunctionID:          e.def.ID(),
		Definition:          snapshot,
	})

	actionID, err := e.recorder.Create(trace.ActionExecutingFunction, executingPayload{
		Function: e.def.Name(),
		Args:     args,
	}, trace.Loading())
	if err != nil {
		return exec, err
	}

	result, err := e.execute(ctx, args)
	if err != nil {
		_ = e.recorder.Update(actionID, trace.Failure(err))
		observability.ErrorContext(ctx, "Function execution failed", "function", e.def.Name(), "error", err)
		return exec, err
	}
	_ = e.recorder.Update(actionID, trace.Success(result))
	return exec, nil
}

func (e *Engine) execute(ctx context.Context, args function.Args) (any, error) {
	def := e.def

	queryDoc, err := e.resolveQuery(ctx, args)
	if err != nil {
		return nil, err
	}

	instructions := ""
	if def.Instructions() != "" {
		instructions, err = prompt.Interpolate(def.Instructions(), args.Instructions)
		if err != nil {
			return nil, err
		}
	}

	documents, err := e.retrieveDocuments(ctx, args, instructions)
	if err != nil {
		return nil, err
	}

	if def.Output() == nil && def.Instructions() == "" {
		if err := e.recorder.Resolve(nil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	provider, err := e.runner.provider(def.Model().Provider)
	if err != nil {
		return nil, err
	}

	messages, err := e.messages(queryDoc, documents, instructions)
	if err != nil {
		return nil, err
	}

	rt := &retriever{
		provider:       provider,
		params:         def.Model(),
		functions:      def.Functions(),
		target:         schema.Print(def.Output()),
		recorder:       e.recorder,
		executor:       e.runner.executor,
		prompts:        e.runner.prompts,
		maxRetries:     e.runner.config.MaxRetries,
		maxCorrections: e.runner.config.MaxCorrections,
	}
	result, err := rt.retrieve(ctx, messages)
	if err != nil {
		return nil, err
	}
	if err := e.recorder.Resolve(result); err != nil {
		return nil, err
	}

	if result, err = e.fold(ctx, def.MapSteps(), result, args); err != nil {
		return nil, err
	}
	if result, err = e.fold(ctx, def.Sequences(), result, args); err != nil {
		return nil, err
	}

	if verify := def.Verify(); verify != nil {
		if err := e.recorder.SetVerified(verify(args, result)); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// resolveQuery 调用查询解析器，结果序列化为 JSON 文本
func (e *Engine) resolveQuery(ctx context.Context, args function.Args) (string, error) {
	resolver := e.def.Query()
	if resolver == nil || args.Query == nil {
		return "", nil
	}

	actionID, err := e.recorder.Create(trace.ActionQuery, args.Query, trace.Loading())
	if err != nil {
		return "", err
	}

	result, err := resolver(ctx, args.Query)
	if err != nil {
		_ = e.recorder.Update(actionID, trace.Failure(err))
		return "", fmt.Errorf("%w: %v", ErrQuery, err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		_ = e.recorder.Update(actionID, trace.Failure(err))
		return "", fmt.Errorf("%w: %v", ErrQuery, err)
	}

	_ = e.recorder.Update(actionID, trace.Success(result))
	return string(raw), nil
}

// retrieveDocuments 逐个检索声明的文档，返回拼接后的上下文
func (e *Engine) retrieveDocuments(ctx context.Context, args function.Args, instructions string) (string, error) {
	docs := e.def.Documents()
	if len(docs) == 0 {
		return "", nil
	}

	executionID := e.recorder.Execution().ID
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		actionID, err := e.recorder.Create(trace.ActionGetDocument, doc, trace.Loading())
		if err != nil {
			return "", err
		}

		content, ok := args.Documents[doc.Name]
		if !ok {
			err := fmt.Errorf("%w: %s", ErrMissingDocument, doc.Name)
			_ = e.recorder.Update(actionID, trace.Failure(err))
			return "", err
		}

		res, err := e.runner.documents.Retrieve(ctx, BoundDocument{Document: doc, Content: content}, executionID, instructions)
		if err != nil {
			_ = e.recorder.Update(actionID, trace.Failure(err))
			return "", fmt.Errorf("document %s: %w", doc.Name, err)
		}
		_ = e.recorder.Update(actionID, trace.Success(res))

		if res.Result != "" {
			parts = append(parts, fmt.Sprintf("DOCUMENT %s:\n%s", doc.Name, res.Result))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// messages 系统提示词加上非空的查询、文档、指令消息
func (e *Engine) messages(queryDoc, documents, instructions string) ([]llm.Message, error) {
	names := make([]string, 0)
	for _, fn := range e.def.Functions() {
		names = append(names, fn.Name)
	}
	system, err := e.runner.prompts.System(names, e.def.Output() != nil)
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	if queryDoc != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "QUERY:\n" + queryDoc})
	}
	if documents != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: documents})
	}
	if instructions != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: instructions})
	}
	return messages, nil
}

// fold 依次执行下游步骤
// 函数步骤共享当前 Execution ID，其子调用记录并入当前 Execution
func (e *Engine) fold(ctx context.Context, steps []function.Step, result any, args function.Args) (any, error) {
	for _, step := range steps {
		switch step.Kind {
		case function.StepFunction:
			if step.Function == nil {
				return nil, function.ErrNilDefinition
			}
			child, err := e.runner.run(ctx, step.Function, function.Args{
				Instructions: map[string]any{"input": result},
				Input:        result,
			}, e.recorder.Execution().ID, true)
			if child != nil {
				e.recorder.Attach(child.FunctionsExecuted...)
			}
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", step.Function.Name(), err)
			}
			result = child.FinalResponse

		case function.StepTransform:
			if step.Transform == nil {
				return nil, fmt.Errorf("transform step %s has no implementation", step.Name)
			}
			next, err := step.Transform(ctx, result, e.recorder.Execution().Clone(), args)
			if err != nil {
				return nil, fmt.Errorf("transform %s: %w", step.Name, err)
			}
			result = next

		default:
			return nil, fmt.Errorf("unknown step kind %q", step.Kind)
		}

		if err := e.recorder.Resolve(result); err != nil {
			return nil, err
		}
	}
	return result, nil
}
