// Package wire 提供依赖注入配置
package wire

import (
	"context"
	"fmt"

	"fitplan-ai-api/internal/application/plan"
	"fitplan-ai-api/internal/application/quota"
	"fitplan-ai-api/internal/config"
	"fitplan-ai-api/internal/domain/repository"
	"fitplan-ai-api/internal/domain/service"
	"fitplan-ai-api/internal/infrastructure/llm"
	"fitplan-ai-api/internal/infrastructure/persistence/postgres"
	"fitplan-ai-api/internal/infrastructure/persistence/redis"
	"fitplan-ai-api/internal/interfaces/http/handler"
	"fitplan-ai-api/internal/interfaces/http/router"
	"fitplan-ai-api/internal/workflow/chain"
	"fitplan-ai-api/pkg/logger"
)

// InitializeApp 组装整个应用。
// Redis 是硬依赖；Postgres 只在配置了地址时接入，缺席时历史落库自动关闭。
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn(ctx, "failed to close redis client", "error", err.Error())
		}
	})

	var pgClient *postgres.Client
	if cfg.Database.Postgres.Host != "" {
		pgClient, err = postgres.NewClient(&cfg.Database.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := pgClient.Close(); err != nil {
				logger.Warn(ctx, "failed to close postgres client", "error", err.Error())
			}
		})
	}

	// LLM 工作流
	factory := llm.NewEinoFactory(cfg)
	workoutChain := chain.NewWorkoutPlanChain(factory)
	mealChain := chain.NewMealPlanChain(factory)

	var usageRecorder service.LLMUsageRecorder
	var planRepo repository.PlanRepository
	var usageRepo repository.UsageEventRepository
	if pgClient != nil {
		usageRecorder = postgres.NewLLMUsageEventRepository(pgClient)
		planRepo = postgres.NewPlanRepository(pgClient)
		usageRepo = postgres.NewUsageEventRepository(pgClient)
	}

	generator := plan.NewChainGenerator(workoutChain, mealChain, usageRecorder)

	// 生成管线
	planCache := redis.NewPlanCache(redisClient)
	pipeline := plan.NewPipeline(generator, planCache, plan.Options{
		MaxRetries:    cfg.Generation.MaxRetries,
		RetryDelay:    cfg.Generation.RetryDelay,
		StreamTimeout: cfg.Generation.StreamTimeout,
		CacheTTL:      cfg.Generation.CacheTTL,
		DedupPolicy:   plan.DedupPolicy(cfg.Generation.DedupPolicy),
	})

	// 配额
	usageCounter := redis.NewUsageCounter(redisClient)
	limiter := quota.NewUsageLimiter(usageCounter, quota.Limits{
		AnonymousDaily:     cfg.Quota.AnonymousDaily,
		AuthenticatedDaily: cfg.Quota.AuthenticatedDaily,
	}, cfg.Features.UsageFailOpen)

	// HTTP 层
	rateLimiter := redis.NewRateLimiter(redisClient)
	healthHandler := handler.NewHealthHandler(pgClient, redisClient, cfg.App.Version)
	planHandler := handler.NewPlanHandler(cfg, pipeline, limiter, planRepo, usageRepo)

	r := router.New(cfg, healthHandler, planHandler, rateLimiter)

	return r, cleanup, nil
}
