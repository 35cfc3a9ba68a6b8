// Package chain 编排各生成工作流的 LLM 调用
package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	llmctx "fitplan-ai-api/internal/domain/service"
	wfmodel "fitplan-ai-api/internal/workflow/model"
	workflowport "fitplan-ai-api/internal/workflow/port"
	workflowprompt "fitplan-ai-api/internal/workflow/prompt"
)

type WorkoutPlanChain struct {
	factory workflowport.ChatModelFactory
}

func NewWorkoutPlanChain(factory workflowport.ChatModelFactory) *WorkoutPlanChain {
	return &WorkoutPlanChain{factory: factory}
}

func (c *WorkoutPlanChain) Invoke(ctx context.Context, in *wfmodel.WorkoutPlanInput) (*schema.Message, error) {
	chatModel, msgs, err := c.prepare(ctx, in, "workout_plan_generate")
	if err != nil {
		return nil, err
	}
	outMsg, err := chatModel.Generate(ctx, msgs, buildPlanModelOptions(in.Model, in.Tuning)...)
	if err != nil {
		return nil, err
	}
	if outMsg == nil {
		return nil, fmt.Errorf("empty llm response")
	}
	return outMsg, nil
}

// Stream 返回 Eino StreamReader；调用方负责 Close()。
// 约定：流可能在最后返回一个 Content 为空但包含 Usage 的消息，用于 Token 统计。
func (c *WorkoutPlanChain) Stream(ctx context.Context, in *wfmodel.WorkoutPlanInput) (*schema.StreamReader[*schema.Message], error) {
	chatModel, msgs, err := c.prepare(ctx, in, "workout_plan_stream")
	if err != nil {
		return nil, err
	}
	return chatModel.Stream(ctx, msgs, buildPlanModelOptions(in.Model, in.Tuning)...)
}

func (c *WorkoutPlanChain) prepare(ctx context.Context, in *wfmodel.WorkoutPlanInput, workflow string) (model.BaseChatModel, []*schema.Message, error) {
	if c == nil || c.factory == nil {
		return nil, nil, fmt.Errorf("llm factory not configured")
	}
	if in == nil {
		return nil, nil, fmt.Errorf("input is nil")
	}
	if strings.TrimSpace(in.Provider) == "" {
		return nil, nil, fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(in.Goal) == "" {
		return nil, nil, fmt.Errorf("goal is required")
	}
	if in.DaysPerWeek <= 0 {
		return nil, nil, fmt.Errorf("days_per_week is required")
	}

	ctx = llmctx.WithWorkflowProvider(ctx, workflow, strings.TrimSpace(in.Provider))
	chatModel, err := c.factory.Get(ctx, strings.TrimSpace(in.Provider))
	if err != nil {
		return nil, nil, err
	}

	msgs, err := formatWorkoutMessages(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return chatModel, msgs, nil
}

var planPromptRegistry = workflowprompt.NewRegistry()

func formatWorkoutMessages(ctx context.Context, in *wfmodel.WorkoutPlanInput) ([]*schema.Message, error) {
	tpl, err := planPromptRegistry.ChatTemplate(workflowprompt.PromptWorkoutPlanV1)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"goal":            strings.TrimSpace(in.Goal),
		"days_per_week":   in.DaysPerWeek,
		"level":           orDefault(in.Level, "beginner"),
		"equipment":       orDefault(in.Equipment, "bodyweight only"),
		"session_minutes": in.SessionMinutes,
		"restrictions":    orDefault(in.Restrictions, "none"),
	}
	return tpl.Format(ctx, vars)
}

func buildPlanModelOptions(modelName string, tuning wfmodel.LLMTuning) []model.Option {
	opts := make([]model.Option, 0, 3)
	if tuning.Temperature != nil {
		opts = append(opts, model.WithTemperature(*tuning.Temperature))
	}
	if tuning.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*tuning.MaxTokens))
	}
	if strings.TrimSpace(modelName) != "" {
		opts = append(opts, model.WithModel(strings.TrimSpace(modelName)))
	}
	return opts
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}
