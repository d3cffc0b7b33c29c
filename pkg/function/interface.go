// Package function 提供 AI 函数定义模型、构建器和注册表
package function

import (
	"encoding/json"

	"github.com/KodaTao/LLMFunctions/pkg/llm"
)

// FunctionInfo 函数元信息，用于 API 返回和命令行展示
type FunctionInfo struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	Placeholders []string        `json:"placeholders,omitempty"`
	Model        llm.ModelParams `json:"model"`
	Output       json.RawMessage `json:"output,omitempty"`
	Functions    []string        `json:"functions,omitempty"`
	Documents    []Document      `json:"documents,omitempty"`
	DatasetSize  int             `json:"dataset_size"`
}

// Info 返回定义的元信息
func (d *Definition) Info() FunctionInfo {
	info := FunctionInfo{
		ID:           d.id,
		Name:         d.name,
		Description:  d.description,
		Instructions: d.instructions,
		Placeholders: d.Placeholders(),
		Model:        d.model,
		Documents:    d.Documents(),
		DatasetSize:  len(d.dataset),
	}
	if d.output != nil {
		info.Output = d.output.JSONSchema()
	}
	for _, fn := range d.functions {
		info.Functions = append(info.Functions, fn.Name)
	}
	return info
}
