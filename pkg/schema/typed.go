// Package schema 提供结构化输出和函数参数的 Schema 定义与校验
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// validate 结构体字段校验器（validate 标签）
var validate = validator.New()

// typedSchema 由 Go 类型生成的 Schema
// JSON Schema 通过反射 json / jsonschema 标签得到，字段约束使用 validate 标签
// 解码前先用反射得到的 JSON Schema 做结构校验（必填字段、禁止多余字段）
type typedSchema[T any] struct {
	raw       json.RawMessage
	structure Schema
}

// Of 从 Go 类型 T 生成 Schema
// Validate 返回的值类型为 T
func Of[T any]() Schema {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(T))
	s.Version = ""

	raw, err := json.Marshal(s)
	if err != nil {
		// 反射生成的 Schema 总能序列化，这里失败说明类型定义有问题
		panic(fmt.Sprintf("schema: reflect %T: %v", *new(T), err))
	}
	structure, err := FromJSON(raw)
	if err != nil {
		panic(fmt.Sprintf("schema: compile %T: %v", *new(T), err))
	}
	return &typedSchema[T]{raw: structure.JSONSchema(), structure: structure}
}

func (s *typedSchema[T]) JSONSchema() json.RawMessage {
	return s.raw
}

func (s *typedSchema[T]) Validate(raw json.RawMessage) (any, error) {
	if _, err := s.structure.Validate(raw); err != nil {
		return nil, err
	}

	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&v); err != nil {
		return nil, newValidationError(raw, "invalid arguments: %v", err)
	}

	if err := validateValue(v); err != nil {
		return nil, newValidationError(raw, "%s", err.Error())
	}
	return v, nil
}

// validateValue 对结构体（或结构体指针）执行 validate 标签校验
func validateValue(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	err := validate.Struct(rv.Interface())
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
