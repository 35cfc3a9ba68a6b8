// Package repository 定义领域仓储接口
package repository

import (
	"context"

	"fitplan-ai-api/internal/domain/entity"
)

// PlanRepository 计划仓储接口
type PlanRepository interface {
	Create(ctx context.Context, record *entity.PlanRecord) error
	GetByID(ctx context.Context, id string) (*entity.PlanRecord, error)
	ListByUser(ctx context.Context, userID string, kind entity.PlanKind, limit int) ([]*entity.PlanRecord, error)
}

// UsageEventRepository 用量事件仓储接口
type UsageEventRepository interface {
	Create(ctx context.Context, event *entity.UsageEvent) error
}
