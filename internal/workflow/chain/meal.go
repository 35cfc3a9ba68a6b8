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

type MealPlanChain struct {
	factory workflowport.ChatModelFactory
}

func NewMealPlanChain(factory workflowport.ChatModelFactory) *MealPlanChain {
	return &MealPlanChain{factory: factory}
}

func (c *MealPlanChain) Invoke(ctx context.Context, in *wfmodel.MealPlanInput) (*schema.Message, error) {
	chatModel, msgs, err := c.prepare(ctx, in, "meal_plan_generate")
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

func (c *MealPlanChain) Stream(ctx context.Context, in *wfmodel.MealPlanInput) (*schema.StreamReader[*schema.Message], error) {
	chatModel, msgs, err := c.prepare(ctx, in, "meal_plan_stream")
	if err != nil {
		return nil, err
	}
	return chatModel.Stream(ctx, msgs, buildPlanModelOptions(in.Model, in.Tuning)...)
}

func (c *MealPlanChain) prepare(ctx context.Context, in *wfmodel.MealPlanInput, workflow string) (model.BaseChatModel, []*schema.Message, error) {
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
	if in.Days <= 0 {
		return nil, nil, fmt.Errorf("days is required")
	}
	if in.DailyCalories <= 0 {
		return nil, nil, fmt.Errorf("daily_calories is required")
	}

	ctx = llmctx.WithWorkflowProvider(ctx, workflow, strings.TrimSpace(in.Provider))
	chatModel, err := c.factory.Get(ctx, strings.TrimSpace(in.Provider))
	if err != nil {
		return nil, nil, err
	}

	msgs, err := formatMealMessages(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return chatModel, msgs, nil
}

func formatMealMessages(ctx context.Context, in *wfmodel.MealPlanInput) ([]*schema.Message, error) {
	tpl, err := planPromptRegistry.ChatTemplate(workflowprompt.PromptMealPlanV1)
	if err != nil {
		return nil, err
	}
	mealsPerDay := in.MealsPerDay
	if mealsPerDay <= 0 {
		mealsPerDay = 3
	}
	vars := map[string]any{
		"goal":           strings.TrimSpace(in.Goal),
		"daily_calories": in.DailyCalories,
		"diet":           orDefault(in.Diet, "no preference"),
		"meals_per_day":  mealsPerDay,
		"allergies":      orDefault(in.Allergies, "none"),
		"days":           in.Days,
	}
	return tpl.Format(ctx, vars)
}
