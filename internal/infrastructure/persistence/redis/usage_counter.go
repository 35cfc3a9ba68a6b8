// Package redis 提供每日用量计数实现
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// UsageCounter 每日生成次数计数器，实现 quota.CounterStore
// 键按自然日(UTC)滚动，过期时间设在次日零点，Redis 自行清理
type UsageCounter struct {
	client *Client
}

// NewUsageCounter 创建用量计数器
func NewUsageCounter(client *Client) *UsageCounter {
	return &UsageCounter{client: client}
}

// Get 获取当前计数
func (u *UsageCounter) Get(ctx context.Context, key string) (int64, error) {
	ctx, span := tracer.Start(ctx, "usage_counter.Get")
	span.SetAttributes(attribute.String("usage.key", key))
	defer span.End()

	val, err := u.client.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		span.RecordError(err)
		return 0, err
	}
	return val, nil
}

// Incr 递增计数并设置过期时间
func (u *UsageCounter) Incr(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "usage_counter.Incr")
	span.SetAttributes(attribute.String("usage.key", key))
	defer span.End()

	pipe := u.client.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, expireAt)

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return 0, err
	}
	return incrCmd.Val(), nil
}
