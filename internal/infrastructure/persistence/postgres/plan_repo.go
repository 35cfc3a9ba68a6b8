// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"fitplan-ai-api/internal/domain/entity"
)

// PlanRepository 计划仓储实现
type PlanRepository struct {
	client *Client
}

// NewPlanRepository 创建计划仓储
func NewPlanRepository(client *Client) *PlanRepository {
	return &PlanRepository{client: client}
}

// Create 保存已生成的计划
func (r *PlanRepository) Create(ctx context.Context, record *entity.PlanRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.PlanRepository.Create")
	defer span.End()

	if err := r.client.db.WithContext(ctx).Table("plan_records").Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create plan record: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取计划
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*entity.PlanRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.PlanRepository.GetByID")
	defer span.End()

	var record entity.PlanRecord
	err := r.client.db.WithContext(ctx).Table("plan_records").First(&record, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get plan record: %w", err)
	}
	return &record, nil
}

// ListByUser 获取用户的历史计划
func (r *PlanRepository) ListByUser(ctx context.Context, userID string, kind entity.PlanKind, limit int) ([]*entity.PlanRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.PlanRepository.ListByUser")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var records []*entity.PlanRecord
	q := r.client.db.WithContext(ctx).Table("plan_records").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Find(&records).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list plan records: %w", err)
	}
	return records, nil
}
