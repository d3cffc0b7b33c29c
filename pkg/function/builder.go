// Package function 提供 AI 函数定义模型、构建器和注册表
package function

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/prompt/templates"
	"github.com/KodaTao/LLMFunctions/pkg/schema"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

var (
	// ErrNoRunner Create 时没有提供 Runner
	ErrNoRunner = errors.New("no runner configured")
	// ErrReservedName 子函数使用了保留名称
	ErrReservedName = errors.New("sub-function name is reserved")
	// ErrDuplicateFunction 子函数重名
	ErrDuplicateFunction = errors.New("duplicate sub-function name")
)

// Runner 执行函数定义
type Runner interface {
	Run(ctx context.Context, def *Definition, args Args, executionID string) (*trace.Execution, error)
}

// CreateNotifier 定义创建后的通知（例如注册到函数注册表）
type CreateNotifier interface {
	OnCreated(def *Definition)
}

// Func Create 返回的可调用函数，只返回最终结果
type Func func(ctx context.Context, args Args) (any, error)

// Builder 函数定义构建器
// 值类型，每个方法返回新的 Builder，原 Builder 不受影响
type Builder struct {
	def *Definition
}

// New 创建空构建器
func New() Builder {
	return Builder{def: &Definition{}}
}

// with 浅拷贝当前定义后修改
func (b Builder) with(fn func(d *Definition)) Builder {
	var next Definition
	if b.def != nil {
		next = *b.def
	}
	next.id = ""
	fn(&next)
	return Builder{def: &next}
}

// Name 设置函数名
func (b Builder) Name(name string) Builder {
	return b.with(func(d *Definition) { d.name = name })
}

// Description 设置函数描述
func (b Builder) Description(desc string) Builder {
	return b.with(func(d *Definition) { d.description = desc })
}

// Instructions 设置指令模板，模板按原样保存
func (b Builder) Instructions(tpl string) Builder {
	return b.with(func(d *Definition) { d.instructions = tpl })
}

// Output 设置输出 Schema
func (b Builder) Output(s schema.Schema) Builder {
	return b.with(func(d *Definition) { d.output = s })
}

// Document 追加文档描述
func (b Builder) Document(docs ...Document) Builder {
	return b.with(func(d *Definition) { d.documents = slices.Concat(d.documents, docs) })
}

// Query 设置查询解析器
func (b Builder) Query(resolver QueryResolver) Builder {
	return b.with(func(d *Definition) { d.query = resolver })
}

// Functions 追加子函数
func (b Builder) Functions(subs ...SubFunction) Builder {
	return b.with(func(d *Definition) { d.functions = slices.Concat(d.functions, subs) })
}

// Model 设置模型参数
func (b Builder) Model(params llm.ModelParams) Builder {
	return b.with(func(d *Definition) { d.model = params })
}

// Dataset 设置数据集
func (b Builder) Dataset(args ...Args) Builder {
	return b.with(func(d *Definition) { d.dataset = slices.Clone(args) })
}

// Verify 设置结果校验函数
func (b Builder) Verify(fn Verifier) Builder {
	return b.with(func(d *Definition) { d.verify = fn })
}

// Map 追加 map 步骤
func (b Builder) Map(steps ...Step) Builder {
	return b.with(func(d *Definition) { d.mapFns = slices.Concat(d.mapFns, steps) })
}

// Sequence 追加 sequence 函数
func (b Builder) Sequence(defs ...*Definition) Builder {
	steps := make([]Step, 0, len(defs))
	for _, def := range defs {
		steps = append(steps, FunctionStep(def))
	}
	return b.with(func(d *Definition) { d.sequences = slices.Concat(d.sequences, steps) })
}

// Definition 返回当前定义（未分配 id）
func (b Builder) Definition() *Definition {
	if b.def == nil {
		return &Definition{}
	}
	return b.def
}

// Create 计算内容哈希并返回最终定义与可调用函数
// r 实现 CreateNotifier 时会收到创建通知
func (b Builder) Create(r Runner) (*Definition, Func, error) {
	def := *b.Definition()
	if err := def.validate(); err != nil {
		return nil, nil, err
	}

	id, err := ComputeID(&def)
	if err != nil {
		return nil, nil, err
	}
	def.id = id
	created := &def

	if n, ok := r.(CreateNotifier); ok {
		n.OnCreated(created)
	}

	fn := func(ctx context.Context, args Args) (any, error) {
		if r == nil {
			return nil, ErrNoRunner
		}
		exec, err := r.Run(ctx, created, args, "")
		if err != nil {
			return nil, err
		}
		return exec.FinalResponse, nil
	}
	return created, fn, nil
}

func (d *Definition) validate() error {
	seen := make(map[string]bool, len(d.functions))
	for _, fn := range d.functions {
		if fn.Name == templates.PrintFunctionName {
			return fmt.Errorf("%w: %s", ErrReservedName, fn.Name)
		}
		if seen[fn.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateFunction, fn.Name)
		}
		seen[fn.Name] = true
	}
	for _, step := range slices.Concat(d.mapFns, d.sequences) {
		if step.Kind == StepFunction && step.Function == nil {
			return fmt.Errorf("%w: function step", ErrNilDefinition)
		}
	}
	return nil
}
