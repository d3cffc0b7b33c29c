// Package schema 提供结构化输出和函数参数的 Schema 定义与校验
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/jsonschema"
)

// cueSchema 由 JSON Schema 文档构建的 Schema
// JSON Schema 先转换为 CUE 约束，再与模型输出做合一校验
type cueSchema struct {
	mu    sync.Mutex
	ctx   *cue.Context
	value cue.Value
	raw   json.RawMessage
}

// FromJSON 从 JSON Schema 文档构建 Schema
// 用于函数清单等无法使用 Go 类型的场景
func FromJSON(raw []byte) (Schema, error) {
	ctx := cuecontext.New()

	src := ctx.CompileBytes(raw)
	if err := src.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	f, err := jsonschema.Extract(src, &jsonschema.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	value := ctx.BuildFile(f)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	return &cueSchema{
		ctx:   ctx,
		value: value,
		raw:   compact(raw),
	}, nil
}

func (s *cueSchema) JSONSchema() json.RawMessage {
	return s.raw
}

func (s *cueSchema) Validate(raw json.RawMessage) (any, error) {
	// cue.Context 不支持并发使用
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.ctx.CompileBytes(raw)
	if err := data.Err(); err != nil {
		return nil, newValidationError(raw, "invalid arguments: %v", err)
	}

	unified := s.value.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, newValidationError(raw, "%s", cueerrors.Details(err, nil))
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, newValidationError(raw, "invalid arguments: %v", err)
	}
	return out, nil
}
