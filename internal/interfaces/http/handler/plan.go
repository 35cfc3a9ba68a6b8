// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fitplan-ai-api/internal/application/plan"
	"fitplan-ai-api/internal/application/quota"
	"fitplan-ai-api/internal/config"
	"fitplan-ai-api/internal/domain/entity"
	"fitplan-ai-api/internal/domain/repository"
	"fitplan-ai-api/internal/interfaces/http/dto"
	apperrors "fitplan-ai-api/pkg/errors"
	"fitplan-ai-api/pkg/logger"
)

// PlanHandler 计划生成处理器
type PlanHandler struct {
	cfg       *config.Config
	pipeline  *plan.Pipeline
	limiter   *quota.UsageLimiter
	planRepo  repository.PlanRepository
	usageRepo repository.UsageEventRepository
}

// NewPlanHandler 创建计划生成处理器。planRepo / usageRepo 可为 nil（关闭落库）。
func NewPlanHandler(
	cfg *config.Config,
	pipeline *plan.Pipeline,
	limiter *quota.UsageLimiter,
	planRepo repository.PlanRepository,
	usageRepo repository.UsageEventRepository,
) *PlanHandler {
	return &PlanHandler{
		cfg:       cfg,
		pipeline:  pipeline,
		limiter:   limiter,
		planRepo:  planRepo,
		usageRepo: usageRepo,
	}
}

// GenerateWorkout 流式生成训练计划
// @Summary 流式生成训练计划
// @Description 通过 SSE 流式返回生成内容；缓存命中时返回普通 JSON（X-Cache: HIT）
// @Tags Plans
// @Accept json
// @Produce text/event-stream
// @Success 200 "SSE stream"
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /v1/plans/workout/stream [post]
func (h *PlanHandler) GenerateWorkout(c *gin.Context) {
	if !h.checkQuota(c, entity.PlanKindWorkout) {
		return
	}

	var req dto.WorkoutPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.ErrorWithDetail(c, http.StatusBadRequest, "invalid request", dto.BindingErrorDetail(err))
		return
	}
	if issues := req.Validate(); len(issues) > 0 {
		dto.ErrorWithDetail(c, http.StatusBadRequest, "invalid request", &dto.ErrorDetail{
			ErrorCode: string(apperrors.CodeInvalidParam),
			Fields:    issues,
		})
		return
	}
	req.Normalize()

	h.generate(c, entity.PlanKindWorkout, req.ToParams(), req.DaysPerWeek, req.GenerationOptions)
}

// GenerateMeal 流式生成膳食计划
// @Summary 流式生成膳食计划
// @Tags Plans
// @Accept json
// @Produce text/event-stream
// @Success 200 "SSE stream"
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /v1/plans/meal/stream [post]
func (h *PlanHandler) GenerateMeal(c *gin.Context) {
	if !h.checkQuota(c, entity.PlanKindMeal) {
		return
	}

	var req dto.MealPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.ErrorWithDetail(c, http.StatusBadRequest, "invalid request", dto.BindingErrorDetail(err))
		return
	}
	if issues := req.Validate(); len(issues) > 0 {
		dto.ErrorWithDetail(c, http.StatusBadRequest, "invalid request", &dto.ErrorDetail{
			ErrorCode: string(apperrors.CodeInvalidParam),
			Fields:    issues,
		})
		return
	}
	req.Normalize()

	h.generate(c, entity.PlanKindMeal, req.ToParams(), 0, req.GenerationOptions)
}

// checkQuota 校验调用方的每日额度，先于请求体校验执行：额度耗尽的调用方
// 应得到 403，而不是因为请求体问题先看到 400。拒绝时响应携带
// remaining / reset_in / requires_auth。
func (h *PlanHandler) checkQuota(c *gin.Context, kind entity.PlanKind) bool {
	decision, err := h.limiter.Check(c.Request.Context(), c.GetString("user_id"), c.ClientIP(), kind)
	if err != nil {
		dto.ServiceUnavailable(c, "usage check unavailable")
		return false
	}
	if decision.Allowed {
		return true
	}
	msg := "daily generation limit reached"
	if decision.RequiresAuth {
		msg = "daily generation limit reached, sign in for a higher limit"
	}
	remaining := decision.Remaining
	dto.ErrorWithDetail(c, http.StatusForbidden, msg, &dto.ErrorDetail{
		ErrorCode:    string(apperrors.CodeUsageLimitExceeded),
		Remaining:    &remaining,
		ResetIn:      int(decision.ResetIn.Seconds()),
		RequiresAuth: decision.RequiresAuth,
	})
	return false
}

// generate 两类计划的公共路径：指纹 -> 缓存 -> SSE 生成（配额已在绑定前校验）
func (h *PlanHandler) generate(c *gin.Context, kind entity.PlanKind, params any, days int, opts dto.GenerationOptions) {
	ctx := logger.WithContext(c.Request.Context(), logger.PlanKindKey, string(kind))
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	clientIP := c.ClientIP()

	provider, model, err := resolveProviderModel(h.cfg, opts.Provider, opts.Model)
	if err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	fingerprint, err := plan.Fingerprint(kind, params)
	if err != nil {
		dto.InternalError(c, "failed to fingerprint request")
		return
	}

	genReq := &plan.Request{
		Kind:        kind,
		Params:      params,
		Fingerprint: fingerprint,
		Days:        days,
		Provider:    provider,
		Model:       model,
	}

	// 缓存命中走普通 JSON，不开 SSE，也不消耗配额
	if payload, ok := h.pipeline.Lookup(ctx, genReq); ok {
		c.Header("X-Cache", "HIT")
		c.JSON(http.StatusOK, dto.CachedPlanResponse{Plan: payload, Cached: true})
		return
	}
	c.Header("X-Cache", "MISS")

	h.streamGenerate(c, genReq, userID, clientIP)
}

// streamGenerate 提交 SSE 响应并驱动生成管线
func (h *PlanHandler) streamGenerate(c *gin.Context, genReq *plan.Request, userID, clientIP string) {
	ctx := c.Request.Context()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	sink := &sseSink{c: c}
	start := time.Now()

	result, err := h.pipeline.Run(ctx, genReq, sink)
	if err != nil {
		switch {
		case err == plan.ErrSuperseded:
			logger.Info(ctx, "generation superseded", "fingerprint", genReq.Fingerprint)
			sink.Error("superseded by a newer identical request", apperrors.CodeGenerationCanceled)
		case ctx.Err() != nil:
			// 客户端断开，无处可写
			logger.Info(ctx, "client disconnected during generation")
		default:
			logger.Error(ctx, "plan generation failed", err, "fingerprint", genReq.Fingerprint)
			sink.Error("plan generation failed, please try again", apperrors.CodeGenerationFailed)
		}
		return
	}

	sink.Done(result.Payload)

	// 成功下发才消耗配额；失败或被顶掉的生成不计数
	_ = h.limiter.Record(ctx, userID, clientIP, genReq.Kind)
	h.recordUsageEvent(ctx, genReq.Kind, userID, clientIP)

	h.persistRecord(c, genReq, result, userID, clientIP, time.Since(start))
}

// recordUsageEvent best-effort 落库用量流水，Redis 计数器之外的审计留底
func (h *PlanHandler) recordUsageEvent(ctx context.Context, kind entity.PlanKind, userID, clientIP string) {
	if h.usageRepo == nil {
		return
	}
	event := &entity.UsageEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		ClientIP:  clientIP,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.usageRepo.Create(ctx, event); err != nil {
		logger.Warn(ctx, "failed to record usage event", "error", err.Error())
	}
}

// persistRecord best-effort 落库历史计划
func (h *PlanHandler) persistRecord(c *gin.Context, genReq *plan.Request, result *plan.Result, userID, clientIP string, elapsed time.Duration) {
	if h.planRepo == nil || !h.cfg.Features.PersistPlans {
		return
	}
	ctx := c.Request.Context()

	paramsJSON, err := json.Marshal(genReq.Params)
	if err != nil {
		paramsJSON = nil
	}
	record := &entity.PlanRecord{
		ID:          uuid.New().String(),
		UserID:      userID,
		ClientIP:    clientIP,
		Kind:        genReq.Kind,
		Fingerprint: genReq.Fingerprint,
		Params:      paramsJSON,
		Payload:     result.Payload,
		Provider:    genReq.Provider,
		Model:       genReq.Model,
		RetryCount:  result.Retries,
		DurationMs:  int(elapsed.Milliseconds()),
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.planRepo.Create(ctx, record); err != nil {
		logger.Warn(ctx, "failed to persist plan record", "error", err.Error())
	}
}

// History 查询当前用户的历史计划
// @Summary 历史计划列表
// @Tags Plans
// @Produce json
// @Router /v1/plans [get]
func (h *PlanHandler) History(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		dto.Unauthorized(c, "sign in to view plan history")
		return
	}
	if h.planRepo == nil {
		dto.NotFound(c, "plan history is disabled")
		return
	}

	kind := entity.PlanKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		dto.BadRequest(c, "kind must be workout or meal")
		return
	}

	page := dto.BindPage(c)
	records, err := h.planRepo.ListByUser(c.Request.Context(), userID, kind, page.Limit())
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list plans", err)
		dto.InternalError(c, "failed to list plans")
		return
	}

	out := make([]*dto.PlanRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, dto.NewPlanRecordResponse(rec))
	}
	dto.Success(c, out)
}

// HistoryDetail 查询单条历史计划
// @Summary 历史计划详情
// @Tags Plans
// @Produce json
// @Router /v1/plans/{id} [get]
func (h *PlanHandler) HistoryDetail(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		dto.Unauthorized(c, "sign in to view plan history")
		return
	}
	if h.planRepo == nil {
		dto.NotFound(c, "plan history is disabled")
		return
	}

	record, err := h.planRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get plan record", err)
		dto.InternalError(c, "failed to get plan")
		return
	}
	// 他人的计划视同不存在
	if record == nil || record.UserID != userID {
		dto.NotFound(c, "plan not found")
		return
	}
	dto.Success(c, dto.NewPlanRecordResponse(record))
}

// sseSink 把管线事件写成 SSE 数据帧。
// 每帧一行 data: 后跟单个 JSON 对象，客户端按字段区分帧类型。
type sseSink struct {
	c *gin.Context
}

func (s *sseSink) Chunk(text string) {
	s.write(dto.StreamChunkEvent{Chunk: text})
}

func (s *sseSink) Retry(attempt int, reason string) {
	s.write(dto.StreamRetryEvent{Retry: attempt, Reason: reason})
}

func (s *sseSink) Done(payload json.RawMessage) {
	s.write(dto.StreamDoneEvent{Done: true, Plan: payload})
}

func (s *sseSink) Error(message string, code apperrors.ErrorCode) {
	s.write(dto.StreamErrorEvent{Error: message, Code: string(code)})
}

func (s *sseSink) write(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(s.c.Writer, "data: %s\n\n", data)
	s.c.Writer.Flush()
}
