package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"fitplan-ai-api/internal/domain/service"
	wfmodel "fitplan-ai-api/internal/workflow/model"
	"fitplan-ai-api/pkg/logger"
	"fitplan-ai-api/pkg/metrics"
)

// ChainGenerator 将工作流 chain 适配为管线的 Generator 端口
type ChainGenerator struct {
	workout workoutChain
	meal    mealChain
	usage   service.LLMUsageRecorder
}

// chain 的最小依赖面，便于测试替身
type workoutChain interface {
	Invoke(ctx context.Context, in *wfmodel.WorkoutPlanInput) (*schema.Message, error)
	Stream(ctx context.Context, in *wfmodel.WorkoutPlanInput) (*schema.StreamReader[*schema.Message], error)
}

type mealChain interface {
	Invoke(ctx context.Context, in *wfmodel.MealPlanInput) (*schema.Message, error)
	Stream(ctx context.Context, in *wfmodel.MealPlanInput) (*schema.StreamReader[*schema.Message], error)
}

// NewChainGenerator 创建 chain 适配器；usage 可为 nil（不落用量流水）
func NewChainGenerator(workout workoutChain, meal mealChain, usage service.LLMUsageRecorder) *ChainGenerator {
	return &ChainGenerator{workout: workout, meal: meal, usage: usage}
}

// Stream 打开一条令牌流
func (g *ChainGenerator) Stream(ctx context.Context, req *Request) (TokenStream, error) {
	start := time.Now()

	var reader *schema.StreamReader[*schema.Message]
	var err error
	switch req.Kind {
	case KindWorkout:
		in, convErr := workoutInput(req)
		if convErr != nil {
			return nil, convErr
		}
		reader, err = g.workout.Stream(ctx, in)
	case KindMeal:
		in, convErr := mealInput(req)
		if convErr != nil {
			return nil, convErr
		}
		reader, err = g.meal.Stream(ctx, in)
	default:
		return nil, fmt.Errorf("unsupported plan kind: %s", req.Kind)
	}
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(req.Provider, req.Model, "failed").Inc()
		return nil, err
	}

	return &einoTokenStream{
		ctx:    ctx,
		reader: reader,
		gen:    g,
		req:    req,
		start:  start,
	}, nil
}

// Generate 非流式生成，重试路径使用
func (g *ChainGenerator) Generate(ctx context.Context, req *Request) (string, error) {
	start := time.Now()

	var msg *schema.Message
	var err error
	switch req.Kind {
	case KindWorkout:
		in, convErr := workoutInput(req)
		if convErr != nil {
			return "", convErr
		}
		msg, err = g.workout.Invoke(ctx, in)
	case KindMeal:
		in, convErr := mealInput(req)
		if convErr != nil {
			return "", convErr
		}
		msg, err = g.meal.Invoke(ctx, in)
	default:
		return "", fmt.Errorf("unsupported plan kind: %s", req.Kind)
	}
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(req.Provider, req.Model, "failed").Inc()
		return "", err
	}

	g.finishCall(ctx, req, start, usageFromMessage(msg))
	return msg.Content, nil
}

// finishCall 上报调用指标并 best-effort 落用量流水
func (g *ChainGenerator) finishCall(ctx context.Context, req *Request, start time.Time, usage *schema.TokenUsage) {
	elapsed := time.Since(start)
	metrics.LLMCallTotal.WithLabelValues(req.Provider, req.Model, "success").Inc()
	metrics.LLMCallDuration.WithLabelValues(req.Provider, req.Model).Observe(elapsed.Seconds())

	if usage == nil {
		return
	}
	metrics.LLMTokensUsed.WithLabelValues(req.Provider, req.Model, "prompt").Add(float64(usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(req.Provider, req.Model, "completion").Add(float64(usage.CompletionTokens))

	if g.usage == nil {
		return
	}
	in := service.LLMUsageInput{
		Workflow:         string(req.Kind) + "_plan",
		Provider:         req.Provider,
		Model:            req.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		DurationMs:       int(elapsed.Milliseconds()),
	}
	if v, ok := ctx.Value(logger.UserIDKey).(string); ok {
		in.UserID = v
	}
	if v, ok := ctx.Value(logger.ClientIPKey).(string); ok {
		in.ClientIP = v
	}
	if err := g.usage.Record(ctx, in); err != nil {
		logger.Warn(ctx, "failed to record llm usage", "error", err.Error())
	}
}

func usageFromMessage(msg *schema.Message) *schema.TokenUsage {
	if msg == nil || msg.ResponseMeta == nil {
		return nil
	}
	return msg.ResponseMeta.Usage
}

// workoutInput 把管线请求转成训练计划工作流输入
func workoutInput(req *Request) (*wfmodel.WorkoutPlanInput, error) {
	p, ok := req.Params.(WorkoutParams)
	if !ok {
		return nil, fmt.Errorf("workout request carries %T params", req.Params)
	}
	return &wfmodel.WorkoutPlanInput{
		Provider:       req.Provider,
		Model:          req.Model,
		Goal:           p.Goal,
		DaysPerWeek:    p.DaysPerWeek,
		Level:          p.Level,
		Equipment:      p.Equipment,
		SessionMinutes: p.SessionMinutes,
		Restrictions:   strings.Join(p.Restrictions, ", "),
	}, nil
}

// mealInput 把管线请求转成膳食计划工作流输入
func mealInput(req *Request) (*wfmodel.MealPlanInput, error) {
	p, ok := req.Params.(MealParams)
	if !ok {
		return nil, fmt.Errorf("meal request carries %T params", req.Params)
	}
	return &wfmodel.MealPlanInput{
		Provider:      req.Provider,
		Model:         req.Model,
		Goal:          p.Goal,
		DailyCalories: p.DailyCalories,
		Diet:          p.Diet,
		MealsPerDay:   p.MealsPerDay,
		Allergies:     strings.Join(p.Allergies, ", "),
		Days:          req.ExpectedDays(),
	}, nil
}

// einoTokenStream 把 Eino StreamReader 适配成 TokenStream。
// 流末尾可能出现 Content 为空但带 Usage 的消息，在 EOF 前吸收用于计量。
type einoTokenStream struct {
	ctx    context.Context
	reader *schema.StreamReader[*schema.Message]
	gen    *ChainGenerator
	req    *Request
	start  time.Time
	usage  *schema.TokenUsage
	done   bool
}

func (s *einoTokenStream) Recv() (string, error) {
	for {
		msg, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			if !s.done {
				s.done = true
				s.gen.finishCall(s.ctx, s.req, s.start, s.usage)
			}
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			s.usage = msg.ResponseMeta.Usage
		}
		if msg.Content == "" {
			continue
		}
		return msg.Content, nil
	}
}

func (s *einoTokenStream) Close() {
	s.reader.Close()
}
