// Package dto 提供 HTTP 层数据传输对象
package dto

import "encoding/json"

// SSE 数据帧。每帧都是一行 data: 后跟单个 JSON 对象，
// 客户端按字段区分帧类型：chunk / retry / done / error。

// StreamChunkEvent 一段计划文本
type StreamChunkEvent struct {
	Chunk string `json:"chunk"`
}

// StreamRetryEvent 服务端丢弃已发送的 chunk 并重新生成
type StreamRetryEvent struct {
	Retry  int    `json:"retry"`
	Reason string `json:"reason,omitempty"`
}

// StreamDoneEvent 终帧，携带完整已校验的计划
type StreamDoneEvent struct {
	Done bool            `json:"done"`
	Plan json.RawMessage `json:"plan"`
}

// StreamErrorEvent 终帧，生成失败
type StreamErrorEvent struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CachedPlanResponse 缓存命中时的普通 JSON 响应（非 SSE）
type CachedPlanResponse struct {
	Plan   json.RawMessage `json:"plan"`
	Cached bool            `json:"cached"`
}
