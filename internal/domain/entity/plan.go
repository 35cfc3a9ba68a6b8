// Package entity 定义领域实体
package entity

import (
	"encoding/json"
	"time"
)

// PlanKind 计划类型
type PlanKind string

const (
	PlanKindWorkout PlanKind = "workout"
	PlanKindMeal    PlanKind = "meal"
)

// Valid 检查计划类型是否合法
func (k PlanKind) Valid() bool {
	return k == PlanKindWorkout || k == PlanKindMeal
}

// PlanRecord 已生成并通过校验的计划
type PlanRecord struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id,omitempty"`
	ClientIP       string          `json:"client_ip,omitempty"`
	Kind           PlanKind        `json:"kind"`
	Fingerprint    string          `json:"fingerprint"`
	Params         json.RawMessage `json:"params"`
	Payload        json.RawMessage `json:"payload"`
	Provider       string          `json:"provider,omitempty"`
	Model          string          `json:"model,omitempty"`
	TokensPrompt   int             `json:"tokens_prompt,omitempty"`
	TokensComplete int             `json:"tokens_completion,omitempty"`
	RetryCount     int             `json:"retry_count"`
	DurationMs     int             `json:"duration_ms,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// UsageEvent 一次计划生成的用量记录
type UsageEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Kind      PlanKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}
