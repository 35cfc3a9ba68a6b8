// Package model 定义工作流的输入输出模型
package model

// LLMTuning 单次调用的模型微调参数，nil 表示使用提供商默认值
type LLMTuning struct {
	Temperature *float32
	MaxTokens   *int
}
