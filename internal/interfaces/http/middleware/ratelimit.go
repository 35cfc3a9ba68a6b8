// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fitplan-ai-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// Enabled 是否启用限流
	Enabled bool
	// RequestsPerWindow 窗口内请求数上限
	RequestsPerWindow int
	// Window 滑动窗口长度
	Window time.Duration
}

// RateLimiter 限流器接口（Redis 滑动窗口实现见 infrastructure/persistence/redis）
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
	ResetIn(ctx context.Context, key string, window time.Duration) (int, error)
}

// RateLimit 限流中间件。无论放行还是拒绝都回写
// X-RateLimit-Remaining / X-RateLimit-Reset 头。
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := "ratelimit:" + identity(c) + ":" + c.Request.URL.Path

		allowed, err := limiter.Allow(ctx, key, cfg.RequestsPerWindow, cfg.Window)
		if err != nil {
			// 限流器故障时放行，避免影响业务
			logger.Warn(ctx, "rate limiter unavailable, allowing request", "error", err.Error())
			c.Next()
			return
		}

		remaining, _ := limiter.Remaining(ctx, key, cfg.RequestsPerWindow, cfg.Window)
		resetIn, _ := limiter.ResetIn(ctx, key, cfg.Window)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetIn))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":     429,
				"message":  "rate limit exceeded, try again in " + strconv.Itoa(resetIn) + "s",
				"trace_id": c.GetString("trace_id"),
			})
			return
		}

		c.Next()
	}
}

// identity 认证用户按 user_id 限流，匿名用户退化为来源 IP
func identity(c *gin.Context) string {
	if userID := c.GetString("user_id"); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}
