// Package engine 提供 AI 函数执行引擎与结构化输出重试循环
package engine

import "errors"

var (
	// ErrNoDataset 定义没有数据集
	ErrNoDataset = errors.New("definition has no dataset")
	// ErrUnknownFunction 模型调用了目录中不存在的函数
	ErrUnknownFunction = errors.New("model called an unknown function")
	// ErrCorrectionLimit 纠正次数（未调用函数、子函数参数错误）超过上限
	ErrCorrectionLimit = errors.New("correction limit exceeded")
	// ErrProvider 模型提供商调用失败
	ErrProvider = errors.New("provider request failed")
	// ErrUnknownProvider 找不到定义指定的提供商
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrMissingDocument 定义声明的文档没有绑定内容
	ErrMissingDocument = errors.New("missing document input")
	// ErrQuery 查询解析器失败
	ErrQuery = errors.New("query resolution failed")
)
