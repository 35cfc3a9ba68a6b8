// Package quota 实现按日的生成次数配额
package quota

import (
	"context"
	"fmt"
	"time"

	"fitplan-ai-api/internal/domain/entity"
	"fitplan-ai-api/pkg/logger"
	"fitplan-ai-api/pkg/metrics"
)

// CounterStore 每日用量计数器的最小依赖面（Redis 实现见 infrastructure/persistence/redis）
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

// Limits 每日配额
type Limits struct {
	AnonymousDaily     int
	AuthenticatedDaily int
}

// Decision 一次配额检查的结果
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetIn 距离额度重置（UTC 午夜）的剩余时长
	ResetIn time.Duration
	// RequiresAuth 匿名额度耗尽，登录后可获得更高额度
	RequiresAuth bool
}

// UsageLimiter 按 UTC 自然日限制生成次数。
// 计数器故障时的行为由 failOpen 决定：开放（放行）或保守（拒绝）。
type UsageLimiter struct {
	store    CounterStore
	limits   Limits
	failOpen bool
	now      func() time.Time
}

// NewUsageLimiter 创建配额检查器
func NewUsageLimiter(store CounterStore, limits Limits, failOpen bool) *UsageLimiter {
	return &UsageLimiter{
		store:    store,
		limits:   limits,
		failOpen: failOpen,
		now:      time.Now,
	}
}

// SetClock 测试注入时钟
func (l *UsageLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// Check 判断调用方今日是否还有生成额度。不消耗额度。
func (l *UsageLimiter) Check(ctx context.Context, userID, clientIP string, kind entity.PlanKind) (Decision, error) {
	limit := l.limitFor(userID)
	key := l.counterKey(userID, clientIP)
	resetIn := l.nextMidnightUTC().Sub(l.now().UTC())

	used, err := l.store.Get(ctx, key)
	if err != nil {
		if l.failOpen {
			logger.Warn(ctx, "usage counter unavailable, allowing request", "error", err.Error())
			metrics.UsageLimitTotal.WithLabelValues(string(kind), "fail_open").Inc()
			return Decision{Allowed: true, Remaining: limit, ResetIn: resetIn}, nil
		}
		metrics.UsageLimitTotal.WithLabelValues(string(kind), "fail_closed").Inc()
		return Decision{}, fmt.Errorf("usage counter unavailable: %w", err)
	}

	remaining := limit - int(used)
	if remaining <= 0 {
		metrics.UsageLimitTotal.WithLabelValues(string(kind), "denied").Inc()
		return Decision{
			Allowed:      false,
			Remaining:    0,
			ResetIn:      resetIn,
			RequiresAuth: userID == "",
		}, nil
	}

	metrics.UsageLimitTotal.WithLabelValues(string(kind), "allowed").Inc()
	return Decision{Allowed: true, Remaining: remaining, ResetIn: resetIn}, nil
}

// Record 消耗一次额度。只在生成成功下发后调用，失败的生成不计数。
func (l *UsageLimiter) Record(ctx context.Context, userID, clientIP string, kind entity.PlanKind) error {
	key := l.counterKey(userID, clientIP)
	if _, err := l.store.Incr(ctx, key, l.nextMidnightUTC()); err != nil {
		// 计数失败不回滚已下发的计划
		logger.Warn(ctx, "failed to record plan usage", "error", err.Error(), "kind", string(kind))
		return err
	}
	return nil
}

func (l *UsageLimiter) limitFor(userID string) int {
	if userID != "" {
		return l.limits.AuthenticatedDaily
	}
	return l.limits.AnonymousDaily
}

// counterKey 认证用户按 userID 计数，匿名用户退化为按来源 IP
func (l *UsageLimiter) counterKey(userID, clientIP string) string {
	day := l.now().UTC().Format("2006-01-02")
	if userID != "" {
		return fmt.Sprintf("usage:user:%s:%s", userID, day)
	}
	return fmt.Sprintf("usage:ip:%s:%s", clientIP, day)
}

func (l *UsageLimiter) nextMidnightUTC() time.Time {
	t := l.now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
