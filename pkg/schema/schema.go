// Package schema 提供结构化输出和函数参数的 Schema 定义与校验
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Schema 结构化校验器
// 同时描述发送给模型的 JSON Schema，以及对模型返回参数的校验
type Schema interface {
	// JSONSchema 返回函数参数的 JSON Schema（发送给模型）
	JSONSchema() json.RawMessage

	// Validate 校验模型返回的原始 JSON，返回解析后的值
	// 校验失败时返回 *ValidationError
	Validate(raw json.RawMessage) (any, error)
}

// ValidationError Schema 校验失败
// Output 保存模型的原始输出，便于写入 trace
type ValidationError struct {
	Message string
	Output  string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrInvalidSchema Schema 本身无法解析
var ErrInvalidSchema = errors.New("invalid schema")

func newValidationError(raw json.RawMessage, format string, args ...any) *ValidationError {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
		Output:  string(raw),
	}
}

// AsValidationError 从错误链中提取 *ValidationError
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// stringSchema 任意字符串
type stringSchema struct{}

// String 返回接受任意字符串的 Schema
func String() Schema {
	return stringSchema{}
}

func (stringSchema) JSONSchema() json.RawMessage {
	return json.RawMessage(`{"type":"string"}`)
}

func (stringSchema) Validate(raw json.RawMessage) (any, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, newValidationError(raw, "expected string: %v", err)
	}
	return s, nil
}

// compact 去掉 JSON 中的空白
func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return json.RawMessage(raw)
	}
	return buf.Bytes()
}
