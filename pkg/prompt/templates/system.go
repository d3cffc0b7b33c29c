// Package templates 提供所有提示词模板
// 模板统一管理，方便其他模块引用和定制
package templates

// PrintFunctionName 结束重试循环的伪函数名
const PrintFunctionName = "print"

// PrintSucceeded print 调用成功后追加到对话中的消息
const PrintSucceeded = "Output received."

// SystemPrompt 系统提示词模板
const SystemPrompt = `You are a precise assistant that produces structured output.

Use the DOCUMENT and QUERY messages, when present, as your only source of facts.
{{if .HasFunctions}}
You may call these functions to gather more information before answering:
{{range .Functions}}- {{.}}
{{end}}{{end}}
When you have the final answer, call the "print" function exactly once with the answer as its "argument".
{{if .HasOutput}}If you cannot produce the answer, call "print" with {"argument": {"error": "<reason>"}}.
{{end}}Never reply with plain text.`

// NoFunctionCallPrompt 模型直接回复文本时的纠正消息
const NoFunctionCallPrompt = `You did not call a function. You must call "{{.Name}}" with arguments matching this JSON schema:
{{.Schema}}`

// InvalidArgumentsPrompt 参数校验失败时的纠正消息
const InvalidArgumentsPrompt = `The arguments you passed to "{{.Name}}" are invalid: {{.Error}}
Call "{{.Name}}" again with arguments matching this JSON schema:
{{.Schema}}`
