// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"fitplan-ai-api/internal/domain/entity"
)

// UsageEventRepository 用量事件仓储实现
type UsageEventRepository struct {
	client *Client
}

// NewUsageEventRepository 创建用量事件仓储
func NewUsageEventRepository(client *Client) *UsageEventRepository {
	return &UsageEventRepository{client: client}
}

// Create 记录一次生成用量
func (r *UsageEventRepository) Create(ctx context.Context, event *entity.UsageEvent) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageEventRepository.Create")
	defer span.End()

	if err := r.client.db.WithContext(ctx).Table("usage_events").Create(event).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create usage event: %w", err)
	}
	return nil
}
