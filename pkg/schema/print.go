// Package schema 提供结构化输出和函数参数的 Schema 定义与校验
package schema

import (
	"encoding/json"
	"fmt"
)

// printSchema print 伪函数的参数 Schema
// 形如 {argument: <output> | {error: string}}
type printSchema struct {
	output Schema
	raw    json.RawMessage
}

// Print 构建 print 伪函数的参数 Schema
// output 为 nil 时 argument 为任意字符串
func Print(output Schema) Schema {
	var argument json.RawMessage
	if output == nil {
		argument = String().JSONSchema()
	} else {
		argument = json.RawMessage(fmt.Sprintf(
			`{"anyOf":[%s,{"type":"object","properties":{"error":{"type":"string"}},"required":["error"]}]}`,
			output.JSONSchema(),
		))
	}
	raw := fmt.Sprintf(`{"type":"object","properties":{"argument":%s},"required":["argument"]}`, argument)
	return &printSchema{output: output, raw: compact([]byte(raw))}
}

func (s *printSchema) JSONSchema() json.RawMessage {
	return s.raw
}

// Validate 返回 argument 字段的值
func (s *printSchema) Validate(raw json.RawMessage) (any, error) {
	var envelope struct {
		Argument json.RawMessage `json:"argument"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, newValidationError(raw, "expected object: %v", err)
	}
	if len(envelope.Argument) == 0 {
		return nil, newValidationError(raw, "argument: required")
	}

	if s.output == nil {
		v, err := String().Validate(envelope.Argument)
		if err != nil {
			return nil, newValidationError(raw, "argument: %v", err)
		}
		return v, nil
	}

	v, err := s.output.Validate(envelope.Argument)
	if err == nil {
		return v, nil
	}

	// 模型可以用 {error: string} 表示无法完成
	var failure struct {
		Error *string `json:"error"`
	}
	if json.Unmarshal(envelope.Argument, &failure) == nil && failure.Error != nil {
		return map[string]any{"error": *failure.Error}, nil
	}
	return nil, newValidationError(raw, "argument: %v", err)
}
