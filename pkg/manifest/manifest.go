// Package manifest 提供声明式函数定义文件（YAML / JSON）的加载
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/KodaTao/LLMFunctions/pkg/function"
	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/schema"
)

// ErrMissingName 文件中缺少 name
var ErrMissingName = errors.New("manifest: name is required")

// Manifest 函数定义文件
//
// 示例：
//
//	name: greet
//	instructions: "Say hello to {name}"
//	output:
//	  type: object
//	  properties:
//	    greeting: {type: string}
//	  required: [greeting]
//	query:
//	  schema:
//	    type: object
//	    properties:
//	      year: {type: integer}
//	dataset:
//	  - instructions: {name: Ada}
type Manifest struct {
	Name         string              `yaml:"name" json:"name"`
	Description  string              `yaml:"description,omitempty" json:"description,omitempty"`
	Instructions string              `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Model        llm.ModelParams     `yaml:"model,omitempty" json:"model,omitempty"`
	Output       map[string]any      `yaml:"output,omitempty" json:"output,omitempty"`
	Documents    []function.Document `yaml:"documents,omitempty" json:"documents,omitempty"`
	Query        *Query              `yaml:"query,omitempty" json:"query,omitempty"`
	Dataset      []function.Args     `yaml:"dataset,omitempty" json:"dataset,omitempty"`

	// Path 来源文件，解析字节时为空
	Path string `yaml:"-" json:"-"`
}

// Query 查询绑定
// 查询输入（按 schema 校验后）原样作为 QUERY 文档发送给模型
type Query struct {
	Schema map[string]any `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// Parse 解析 YAML 内容（JSON 是 YAML 的子集，同样可以解析）
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil, ErrMissingName
	}
	return &m, nil
}

// Load 从文件加载
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m *Manifest
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		m = &Manifest{}
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("%s: %w", path, ErrMissingName)
		}
	} else {
		m, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	m.Path = path
	return m, nil
}

// LoadDir 加载目录下所有 .yaml / .yml / .json 文件，按文件名排序
// 目录不存在时返回空列表
func LoadDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	manifests := make([]*Manifest, 0, len(paths))
	for _, p := range paths {
		m, err := Load(p)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// OutputSchema 将 output 字段编译为 Schema，未声明时返回 nil
func (m *Manifest) OutputSchema() (schema.Schema, error) {
	if len(m.Output) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output schema: %w", err)
	}
	return schema.FromJSON(raw)
}

// QueryResolver 根据 query 字段构建查询解析器，未声明时返回 nil
func (m *Manifest) QueryResolver() (function.QueryResolver, error) {
	if m.Query == nil {
		return nil, nil
	}
	if len(m.Query.Schema) == 0 {
		return func(ctx context.Context, query any) (any, error) {
			return query, nil
		}, nil
	}

	raw, err := json.Marshal(m.Query.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query schema: %w", err)
	}
	s, err := schema.FromJSON(raw)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, query any) (any, error) {
		data, err := json.Marshal(query)
		if err != nil {
			return nil, err
		}
		return s.Validate(data)
	}, nil
}

// Builder 转换为函数构建器
func (m *Manifest) Builder() (function.Builder, error) {
	b := function.New().
		Name(m.Name).
		Description(m.Description).
		Instructions(m.Instructions).
		Model(m.Model)

	out, err := m.OutputSchema()
	if err != nil {
		return function.Builder{}, fmt.Errorf("%s: %w", m.Name, err)
	}
	if out != nil {
		b = b.Output(out)
	}
	resolver, err := m.QueryResolver()
	if err != nil {
		return function.Builder{}, fmt.Errorf("%s: %w", m.Name, err)
	}
	if resolver != nil {
		b = b.Query(resolver)
	}
	if len(m.Documents) > 0 {
		b = b.Document(m.Documents...)
	}
	if len(m.Dataset) > 0 {
		b = b.Dataset(m.Dataset...)
	}
	return b, nil
}

// Create 构建定义并通知 runner 注册
func (m *Manifest) Create(r function.Runner) (*function.Definition, function.Func, error) {
	b, err := m.Builder()
	if err != nil {
		return nil, nil, err
	}
	return b.Create(r)
}
