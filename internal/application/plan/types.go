// Package plan 实现计划生成的核心管线：
// 指纹、完整性检查、结构校验、消毒、重试、去重与缓存
package plan

import (
	"fitplan-ai-api/internal/domain/entity"
)

// Kind 计划类型，复用领域定义
type Kind = entity.PlanKind

const (
	KindWorkout = entity.PlanKindWorkout
	KindMeal    = entity.PlanKindMeal
)

// 膳食计划固定按整周生成
const mealPlanDays = 7

// WorkoutParams 训练计划的规范化表单输入
type WorkoutParams struct {
	Goal           string   `json:"goal"`
	DaysPerWeek    int      `json:"days_per_week"`
	Level          string   `json:"level"`
	Equipment      string   `json:"equipment"`
	SessionMinutes int      `json:"session_minutes,omitempty"`
	Restrictions   []string `json:"restrictions,omitempty"`
}

// MealParams 膳食计划的规范化表单输入
type MealParams struct {
	Goal          string   `json:"goal"`
	DailyCalories int      `json:"daily_calories"`
	Diet          string   `json:"diet"`
	MealsPerDay   int      `json:"meals_per_day"`
	Allergies     []string `json:"allergies,omitempty"`
}

// Request 一次逻辑上的"生成计划"请求
type Request struct {
	Kind Kind
	// Params 规范化后的表单输入（WorkoutParams 或 MealParams）
	Params any
	// Fingerprint 由 Kind + 规范化 Params 推导的确定性键
	Fingerprint string
	// Days 期望的天数（训练计划取 DaysPerWeek，膳食计划固定 7）
	Days int
	// PromptContext 映射到提示词模板变量的词汇
	PromptContext map[string]any
	// Provider / Model LLM 提供商与模型（空则用默认）
	Provider string
	Model    string
}

// WorkoutPlan 已校验的训练计划结构
type WorkoutPlan struct {
	Summary  WorkoutSummary        `json:"summary"`
	Workouts map[string]WorkoutDay `json:"workouts"`
}

// WorkoutSummary 请求参数回显
type WorkoutSummary struct {
	Goal        string `json:"goal"`
	DaysPerWeek int    `json:"days_per_week"`
	Level       string `json:"level"`
	Equipment   string `json:"equipment,omitempty"`
}

// WorkoutDay 单日训练安排
type WorkoutDay struct {
	Focus     string     `json:"focus"`
	Exercises []Exercise `json:"exercises"`
}

// Exercise 单个动作
type Exercise struct {
	Name        string `json:"name"`
	Sets        int    `json:"sets"`
	Reps        string `json:"reps"` // 次数区间字符串，如 "8-12"
	RestSeconds int    `json:"rest_seconds,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// MealPlan 已校验的膳食计划结构
type MealPlan struct {
	Summary MealSummary       `json:"summary"`
	Meals   map[string][]Meal `json:"meals"`
}

// MealSummary 请求参数回显
type MealSummary struct {
	Goal          string `json:"goal"`
	DailyCalories int    `json:"daily_calories"`
	Diet          string `json:"diet"`
	MealsPerDay   int    `json:"meals_per_day"`
}

// Meal 单餐
type Meal struct {
	Name   string      `json:"name"`
	Time   string      `json:"time,omitempty"`
	Foods  []FoodItem  `json:"foods"`
	Totals *MacroTotal `json:"totals,omitempty"`
}

// FoodItem 单个食物条目
type FoodItem struct {
	Name     string  `json:"name"`
	Grams    float64 `json:"grams"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein,omitempty"`
	Carbs    float64 `json:"carbs,omitempty"`
	Fat      float64 `json:"fat,omitempty"`
}

// MacroTotal 营养素合计
type MacroTotal struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// ExpectedDays 返回该请求期望的计划天数
func (r *Request) ExpectedDays() int {
	if r.Kind == KindMeal {
		return mealPlanDays
	}
	return r.Days
}
