// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fitplan-ai-api/internal/domain/service"
)

// llmUsageEventRow llm_usage_events 表行
type llmUsageEventRow struct {
	ID               string    `gorm:"column:id;primaryKey"`
	UserID           string    `gorm:"column:user_id"`
	ClientIP         string    `gorm:"column:client_ip"`
	Workflow         string    `gorm:"column:workflow"`
	Provider         string    `gorm:"column:provider"`
	Model            string    `gorm:"column:model"`
	PromptTokens     int       `gorm:"column:prompt_tokens"`
	CompletionTokens int       `gorm:"column:completion_tokens"`
	DurationMs       int       `gorm:"column:duration_ms"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

// LLMUsageEventRepository LLM 调用流水仓储，实现 service.LLMUsageRecorder
type LLMUsageEventRepository struct {
	client *Client
}

// NewLLMUsageEventRepository 创建 LLM 调用流水仓储
func NewLLMUsageEventRepository(client *Client) *LLMUsageEventRepository {
	return &LLMUsageEventRepository{client: client}
}

// Record 落一条调用流水
func (r *LLMUsageEventRepository) Record(ctx context.Context, in service.LLMUsageInput) error {
	ctx, span := tracer.Start(ctx, "postgres.LLMUsageEventRepository.Record")
	defer span.End()

	row := &llmUsageEventRow{
		ID:               uuid.New().String(),
		UserID:           in.UserID,
		ClientIP:         in.ClientIP,
		Workflow:         in.Workflow,
		Provider:         in.Provider,
		Model:            in.Model,
		PromptTokens:     in.PromptTokens,
		CompletionTokens: in.CompletionTokens,
		DurationMs:       in.DurationMs,
		CreatedAt:        time.Now().UTC(),
	}
	if err := r.client.db.WithContext(ctx).Table("llm_usage_events").Create(row).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record llm usage: %w", err)
	}
	return nil
}
