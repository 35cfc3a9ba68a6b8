package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"fitplan-ai-api/pkg/logger"
	"fitplan-ai-api/pkg/metrics"
)

var pipelineTracer = otel.Tracer("plan.pipeline")

// DedupPolicy 相同指纹并发请求的处理策略
type DedupPolicy string

const (
	// DedupCancelAndReplace 后到者胜：取消在途请求，以新请求替换。
	// 以浪费的上游调用换取最新调用方更低的感知延迟。
	DedupCancelAndReplace DedupPolicy = "cancel_and_replace"
	// DedupJoin 晚到的重复请求加入在途调用并共享其结果
	DedupJoin DedupPolicy = "join"
)

// ErrSuperseded 在途生成被同指纹的新请求取消
var ErrSuperseded = errors.New("generation superseded by a newer identical request")

// Options 管线配置
type Options struct {
	MaxRetries    int
	RetryDelay    time.Duration
	StreamTimeout time.Duration
	CacheTTL      time.Duration
	DedupPolicy   DedupPolicy
}

// EventSink 管线向传输层回报进度的出口
type EventSink interface {
	// Chunk 一段令牌文本，随到随发
	Chunk(text string)
	// Retry 服务端丢弃本次输出并从头重新生成，attempt 从 1 开始
	Retry(attempt int, reason string)
}

// Result 一次成功生成的结果
type Result struct {
	Payload json.RawMessage
	Retries int
	Cached  bool
}

// Pipeline 流式生成管线：缓存 -> 去重 -> 流式生成 -> 校验/重试 -> 缓存回写
type Pipeline struct {
	gen     Generator
	cache   CacheStore
	pending *PendingRegistry
	group   singleflight.Group
	opts    Options
}

// NewPipeline 创建生成管线
func NewPipeline(gen Generator, cache CacheStore, opts Options) *Pipeline {
	if opts.DedupPolicy == "" {
		opts.DedupPolicy = DedupCancelAndReplace
	}
	return &Pipeline{
		gen:     gen,
		cache:   cache,
		pending: NewPendingRegistry(),
		opts:    opts,
	}
}

// Pending 返回在途请求注册表（供观测/测试）
func (p *Pipeline) Pending() *PendingRegistry {
	return p.pending
}

// Lookup 缓存查询。命中时整条管线短路，
// 调用方以普通 JSON（X-Cache: HIT）应答而非 SSE。
func (p *Pipeline) Lookup(ctx context.Context, req *Request) (json.RawMessage, bool) {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.Lookup")
	span.SetAttributes(attribute.String("plan.fingerprint", req.Fingerprint))
	defer span.End()

	payload, ok, err := p.cache.Get(ctx, req.Fingerprint)
	if err != nil {
		// 缓存故障不阻塞生成
		logger.Warn(ctx, "plan cache lookup failed", "error", err.Error())
		metrics.PlanCacheTotal.WithLabelValues(string(req.Kind), "miss").Inc()
		return nil, false
	}
	if !ok {
		metrics.PlanCacheTotal.WithLabelValues(string(req.Kind), "miss").Inc()
		return nil, false
	}
	metrics.PlanCacheTotal.WithLabelValues(string(req.Kind), "hit").Inc()
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return payload, true
}

// Run 执行一次完整生成。调用方已确认缓存未命中并已提交 SSE 响应。
// 返回的错误中，ErrSuperseded 表示被同指纹新请求取代。
func (p *Pipeline) Run(ctx context.Context, req *Request, sink EventSink) (*Result, error) {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.Run")
	span.SetAttributes(
		attribute.String("plan.kind", string(req.Kind)),
		attribute.String("plan.fingerprint", req.Fingerprint),
	)
	defer span.End()

	if p.opts.DedupPolicy == DedupJoin {
		return p.runJoined(ctx, req, sink)
	}
	return p.runExclusive(ctx, req, sink)
}

// runExclusive 后到者胜：取消同指纹在途请求后登记自身
func (p *Pipeline) runExclusive(ctx context.Context, req *Request, sink EventSink) (*Result, error) {
	if p.pending.Cancel(req.Fingerprint) {
		logger.Info(ctx, "cancelled pending generation for duplicate request",
			"fingerprint", req.Fingerprint)
		metrics.PlanDedupTotal.WithLabelValues(string(req.Kind), "cancel_replace").Inc()
	}

	runCtx, cancel := context.WithCancel(ctx)
	entry := p.pending.Register(req.Fingerprint, cancel)
	defer func() {
		p.pending.Release(entry)
		cancel()
	}()

	result, err := p.generate(runCtx, req, sink)
	if err != nil && runCtx.Err() == context.Canceled && ctx.Err() == nil {
		// 自身请求还活着，但运行上下文被取消：被新请求顶掉了
		return nil, ErrSuperseded
	}
	return result, err
}

// runJoined 晚到者加入在途调用并共享结果（不重放 chunk 事件）
func (p *Pipeline) runJoined(ctx context.Context, req *Request, sink EventSink) (*Result, error) {
	v, err, shared := p.group.Do(req.Fingerprint, func() (any, error) {
		return p.generate(ctx, req, sink)
	})
	if shared {
		metrics.PlanDedupTotal.WithLabelValues(string(req.Kind), "join").Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// generate 一次流式生成 + 校验/重试循环 + 缓存回写
func (p *Pipeline) generate(ctx context.Context, req *Request, sink EventSink) (*Result, error) {
	if p.opts.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.StreamTimeout)
		defer cancel()
	}

	start := time.Now()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	payload, firstErr := p.streamOnce(ctx, req, sink)

	retries := 0
	if firstErr != nil {
		// 取消不进入重试：被顶掉或客户端断开后上下文已死
		if ctx.Err() != nil || errors.Is(firstErr, context.Canceled) {
			return nil, firstErr
		}

		metrics.ValidationTotal.WithLabelValues(validationType(firstErr), "failed").Inc()

		if p.opts.MaxRetries <= 0 {
			return nil, firstErr
		}

		// 首次重试事件携带流式输出的真实失败原因
		sink.Retry(1, retryReason(firstErr))
		metrics.PlanRetryTotal.WithLabelValues(string(req.Kind), validationType(firstErr)).Inc()
		retries = 1

		var err error
		payload, err = WithRetry(ctx, func(ctx context.Context) (json.RawMessage, error) {
			text, genErr := p.gen.Generate(ctx, req)
			if genErr != nil {
				return nil, genErr
			}
			return ValidateAssembled(req, text)
		}, RetryOptions{
			MaxRetries: p.opts.MaxRetries - 1,
			Delay:      p.opts.RetryDelay,
			OnRetry: func(attempt int, errMsg string) {
				sink.Retry(attempt+1, errMsg)
				metrics.PlanRetryTotal.WithLabelValues(string(req.Kind), "regeneration").Inc()
				retries = attempt + 1
			},
		})
		if err != nil {
			metrics.PlanGenerationTotal.WithLabelValues(string(req.Kind), "failed").Inc()
			return nil, err
		}
	}

	metrics.ValidationTotal.WithLabelValues("schema", "passed").Inc()
	metrics.PlanGenerationTotal.WithLabelValues(string(req.Kind), "success").Inc()
	metrics.PlanGenerationDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())

	if err := p.cache.Set(ctx, req.Fingerprint, payload, p.opts.CacheTTL); err != nil {
		// 缓存回写失败不影响结果下发
		logger.Warn(ctx, "plan cache write failed", "error", err.Error())
	}

	return &Result{Payload: payload, Retries: retries}, nil
}

// streamOnce 打开令牌流、逐段转发并拼装，流结束后整体校验
func (p *Pipeline) streamOnce(ctx context.Context, req *Request, sink EventSink) (json.RawMessage, error) {
	stream, err := p.gen.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open llm stream: %w", err)
	}
	defer stream.Close()

	var buf strings.Builder
	for {
		token, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("llm stream failed: %w", err)
		}
		if token == "" {
			continue
		}
		buf.WriteString(token)
		sink.Chunk(token)
	}

	return ValidateAssembled(req, buf.String())
}

// validationType 按错误类别打指标标签
func validationType(err error) string {
	switch {
	case IsIncomplete(err):
		return "completeness"
	case errors.As(err, &ValidationError{}):
		return "schema"
	default:
		return "upstream"
	}
}

// retryReason 重试事件中展示给客户端的原因，完整细节只进服务端日志
func retryReason(err error) string {
	if IsIncomplete(err) {
		return err.Error()
	}
	var verr ValidationError
	if errors.As(err, &verr) && len(verr.Issues) > 0 {
		return "plan validation failed: " + verr.Issues[0]
	}
	return "generation failed"
}
