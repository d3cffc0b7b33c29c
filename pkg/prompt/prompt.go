// Package prompt 提供指令模板插值和系统提示词生成
package prompt

import (
	"bytes"
	"text/template"

	"github.com/KodaTao/LLMFunctions/pkg/prompt/templates"
)

// Generator 提示词生成器
type Generator struct {
	systemTemplate      *template.Template
	noCallTemplate      *template.Template
	invalidArgsTemplate *template.Template
}

// NewGenerator 创建提示词生成器
func NewGenerator() *Generator {
	return &Generator{
		systemTemplate:      template.Must(template.New("system").Parse(templates.SystemPrompt)),
		noCallTemplate:      template.Must(template.New("no_call").Parse(templates.NoFunctionCallPrompt)),
		invalidArgsTemplate: template.Must(template.New("invalid_args").Parse(templates.InvalidArgumentsPrompt)),
	}
}

// SystemData 系统提示词模板数据
type SystemData struct {
	Functions    []string
	HasFunctions bool
	// HasOutput 声明了输出 Schema，模型可以用 {error} 分支表示失败
	HasOutput bool
}

// CorrectionData 纠正提示词模板数据
type CorrectionData struct {
	Name   string
	Schema string
	Error  string
}

// System 生成系统提示词
func (g *Generator) System(functions []string, hasOutput bool) (string, error) {
	return execute(g.systemTemplate, SystemData{
		Functions:    functions,
		HasFunctions: len(functions) > 0,
		HasOutput:    hasOutput,
	})
}

// NoFunctionCall 模型没有调用任何函数时的纠正消息
func (g *Generator) NoFunctionCall(printSchema string) (string, error) {
	return execute(g.noCallTemplate, CorrectionData{Name: templates.PrintFunctionName, Schema: printSchema})
}

// InvalidArguments 函数参数校验失败时的纠正消息
func (g *Generator) InvalidArguments(name, schema, validationErr string) (string, error) {
	return execute(g.invalidArgsTemplate, CorrectionData{Name: name, Schema: schema, Error: validationErr})
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DefaultGenerator 默认生成器实例
var DefaultGenerator = NewGenerator()
