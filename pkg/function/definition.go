// Package function 提供 AI 函数定义模型、构建器和注册表
package function

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/prompt"
	"github.com/KodaTao/LLMFunctions/pkg/schema"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// Definition AI 函数定义
// 创建后不可变，所有字段通过访问方法读取
type Definition struct {
	id           string
	name         string
	description  string
	model        llm.ModelParams
	instructions string
	output       schema.Schema
	functions    []SubFunction
	documents    []Document
	query        QueryResolver
	dataset      []Args
	verify       Verifier
	mapFns       []Step
	sequences    []Step
}

// Args 调用参数
type Args struct {
	// Instructions 指令模板占位符的值
	Instructions map[string]any `json:"instructions,omitempty" yaml:"instructions,omitempty"`

	// Query 传给查询解析器的输入
	Query any `json:"query,omitempty" yaml:"query,omitempty"`

	// Documents 文档名到文档内容的绑定
	Documents map[string]string `json:"documents,omitempty" yaml:"documents,omitempty"`

	// Input 上一步的结果（map/sequence 中的函数步骤）
	Input any `json:"input,omitempty" yaml:"input,omitempty"`
}

// SubFunction 模型可以在对话中调用的子函数
type SubFunction struct {
	Name        string
	Description string
	Parameters  schema.Schema
	Call        func(ctx context.Context, args any) (string, error)
}

// NewSubFunction 以 Go 类型 P 作为参数 Schema 创建子函数
func NewSubFunction[P any](name, description string, call func(ctx context.Context, params P) (string, error)) SubFunction {
	return SubFunction{
		Name:        name,
		Description: description,
		Parameters:  schema.Of[P](),
		Call: func(ctx context.Context, args any) (string, error) {
			params, _ := args.(P)
			return call(ctx, params)
		},
	}
}

// Document 文档描述
// 文档内容在调用时通过 Args.Documents[Name] 绑定
type Document struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// QueryResolver 查询解析器，返回值需可 JSON 序列化
type QueryResolver func(ctx context.Context, query any) (any, error)

// Verifier 校验调用结果
type Verifier func(args Args, result any) bool

// Transform map 步骤中的普通变换
type Transform func(ctx context.Context, result any, exec *trace.Execution, args Args) (any, error)

// StepKind 步骤类型
type StepKind string

const (
	StepTransform StepKind = "transform"
	StepFunction  StepKind = "function"
)

// Step map / sequence 中的一个下游步骤
type Step struct {
	Kind      StepKind
	Name      string
	Transform Transform
	Function  *Definition
}

// TransformStep 创建变换步骤
func TransformStep(name string, fn Transform) Step {
	return Step{Kind: StepTransform, Name: name, Transform: fn}
}

// FunctionStep 创建函数步骤
func FunctionStep(def *Definition) Step {
	return Step{Kind: StepFunction, Function: def}
}

// ID 返回内容哈希，Create 之前为空
func (d *Definition) ID() string { return d.id }

// Name 返回函数名
func (d *Definition) Name() string { return d.name }

// Description 返回函数描述
func (d *Definition) Description() string { return d.description }

// Model 返回模型参数
func (d *Definition) Model() llm.ModelParams { return d.model }

// Instructions 返回原始指令模板
func (d *Definition) Instructions() string { return d.instructions }

// Output 返回输出 Schema，可能为 nil
func (d *Definition) Output() schema.Schema { return d.output }

// Query 返回查询解析器，可能为 nil
func (d *Definition) Query() QueryResolver { return d.query }

// Verify 返回校验函数，可能为 nil
func (d *Definition) Verify() Verifier { return d.verify }

// Functions 返回子函数列表的拷贝
func (d *Definition) Functions() []SubFunction { return slices.Clone(d.functions) }

// Documents 返回文档描述列表的拷贝
func (d *Definition) Documents() []Document { return slices.Clone(d.documents) }

// Dataset 返回数据集的拷贝
func (d *Definition) Dataset() []Args { return slices.Clone(d.dataset) }

// MapSteps 返回 map 步骤的拷贝
func (d *Definition) MapSteps() []Step { return slices.Clone(d.mapFns) }

// Sequences 返回 sequence 步骤的拷贝
func (d *Definition) Sequences() []Step { return slices.Clone(d.sequences) }

// Placeholders 返回指令模板需要的占位符
func (d *Definition) Placeholders() []string {
	return prompt.Placeholders(d.instructions)
}

// snapshot 定义的可序列化部分（不含 id 与回调）
type snapshot struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Model        llm.ModelParams    `json:"model"`
	Instructions string             `json:"instructions,omitempty"`
	Output       json.RawMessage    `json:"output,omitempty"`
	Functions    []functionSnapshot `json:"functions,omitempty"`
	Documents    []Document         `json:"documents,omitempty"`
	HasQuery     bool               `json:"has_query,omitempty"`
	Dataset      []Args             `json:"dataset,omitempty"`
	HasVerify    bool               `json:"has_verify,omitempty"`
	Map          []stepSnapshot     `json:"map,omitempty"`
	Sequences    []stepSnapshot     `json:"sequences,omitempty"`
}

type functionSnapshot struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type stepSnapshot struct {
	Transform string `json:"transform,omitempty"`
	Function  string `json:"function,omitempty"`
}

func (d *Definition) snapshot() (snapshot, error) {
	s := snapshot{
		Name:         d.name,
		Description:  d.description,
		Model:        d.model,
		Instructions: d.instructions,
		Documents:    d.documents,
		HasQuery:     d.query != nil,
		Dataset:      d.dataset,
		HasVerify:    d.verify != nil,
	}
	if d.output != nil {
		s.Output = d.output.JSONSchema()
	}
	for _, fn := range d.functions {
		fs := functionSnapshot{Name: fn.Name, Description: fn.Description}
		if fn.Parameters != nil {
			fs.Parameters = fn.Parameters.JSONSchema()
		}
		s.Functions = append(s.Functions, fs)
	}

	var err error
	if s.Map, err = snapshotSteps(d.mapFns); err != nil {
		return snapshot{}, err
	}
	if s.Sequences, err = snapshotSteps(d.sequences); err != nil {
		return snapshot{}, err
	}
	return s, nil
}

func snapshotSteps(steps []Step) ([]stepSnapshot, error) {
	var out []stepSnapshot
	for _, step := range steps {
		switch step.Kind {
		case StepFunction:
			if step.Function == nil {
				return nil, ErrNilDefinition
			}
			id := step.Function.id
			if id == "" {
				var err error
				if id, err = ComputeID(step.Function); err != nil {
					return nil, err
				}
			}
			out = append(out, stepSnapshot{Function: id})
		default:
			out = append(out, stepSnapshot{Transform: step.Name})
		}
	}
	return out, nil
}

// MarshalJSON 序列化定义（包含 id，不包含回调）
func (d *Definition) MarshalJSON() ([]byte, error) {
	s, err := d.snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID string `json:"id,omitempty"`
		snapshot
	}{ID: d.id, snapshot: s})
}
