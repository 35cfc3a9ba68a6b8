// Package redis 提供计划结果缓存实现
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var cacheTracer = otel.Tracer("redis.plan_cache")

const planCachePrefix = "plan:"

// PlanCache 指纹到已校验计划的缓存，实现 plan.CacheStore
type PlanCache struct {
	client *Client
}

// NewPlanCache 创建计划缓存
func NewPlanCache(client *Client) *PlanCache {
	return &PlanCache{client: client}
}

// Get 按指纹获取缓存的计划
func (c *PlanCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := cacheTracer.Start(ctx, "plan_cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err := c.client.rdb.Get(ctx, planCachePrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, err
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	return val, true, nil
}

// Set 写入已校验、已消毒的计划，带 TTL
func (c *PlanCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, span := cacheTracer.Start(ctx, "plan_cache.Set",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	if err := c.client.rdb.Set(ctx, planCachePrefix+key, payload, ttl).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Delete 删除缓存的计划
func (c *PlanCache) Delete(ctx context.Context, key string) error {
	ctx, span := cacheTracer.Start(ctx, "plan_cache.Delete",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	return c.client.rdb.Del(ctx, planCachePrefix+key).Err()
}
