// Package engine 提供 AI 函数执行引擎与结构化输出重试循环
package engine

import (
	"context"

	"github.com/KodaTao/LLMFunctions/pkg/function"
)

// BoundDocument 绑定了输入内容的文档
type BoundDocument struct {
	function.Document
	Content string `json:"content"`
}

// DocumentResult 文档检索结果
type DocumentResult struct {
	Result string `json:"result"`
}

// DocumentRetriever 文档检索接口
// prompt 为插值后的指令，实现可以据此挑选相关片段
type DocumentRetriever interface {
	Retrieve(ctx context.Context, doc BoundDocument, executionID, prompt string) (DocumentResult, error)
}

// PassthroughRetriever 原样返回文档内容
type PassthroughRetriever struct{}

// Retrieve 实现 DocumentRetriever
func (PassthroughRetriever) Retrieve(ctx context.Context, doc BoundDocument, executionID, prompt string) (DocumentResult, error) {
	return DocumentResult{Result: doc.Content}, nil
}
