// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"fmt"
	"strings"
	"time"

	"fitplan-ai-api/internal/application/plan"
	"fitplan-ai-api/internal/domain/entity"
)

// WorkoutPlanRequest 生成训练计划请求
type WorkoutPlanRequest struct {
	Goal           string   `json:"goal" binding:"required,max=200"`
	DaysPerWeek    int      `json:"days_per_week" binding:"required,gte=1,lte=7"`
	Level          string   `json:"level" binding:"required"`
	Equipment      string   `json:"equipment" binding:"max=500"`
	SessionMinutes int      `json:"session_minutes" binding:"omitempty,gte=10,lte=240"`
	Restrictions   []string `json:"restrictions" binding:"max=20,dive,max=100"`

	GenerationOptions
}

// MealPlanRequest 生成膳食计划请求
type MealPlanRequest struct {
	Goal          string   `json:"goal" binding:"required,max=200"`
	DailyCalories int      `json:"daily_calories" binding:"required,gte=800,lte=8000"`
	Diet          string   `json:"diet" binding:"max=100"`
	MealsPerDay   int      `json:"meals_per_day" binding:"omitempty,gte=1,lte=8"`
	Allergies     []string `json:"allergies" binding:"max=20,dive,max=100"`

	GenerationOptions
}

// GenerationOptions 生成选项
type GenerationOptions struct {
	Provider string `json:"provider,omitempty" binding:"omitempty,max=50"`
	Model    string `json:"model,omitempty" binding:"omitempty,max=100"`
}

var workoutLevels = map[string]bool{
	"beginner":     true,
	"intermediate": true,
	"advanced":     true,
}

// Validate 绑定通过后的业务校验，返回逐字段问题列表
func (r *WorkoutPlanRequest) Validate() []string {
	var issues []string
	if !workoutLevels[strings.ToLower(strings.TrimSpace(r.Level))] {
		issues = append(issues, "level: must be one of beginner, intermediate, advanced")
	}
	return issues
}

// Normalize 请求参数规范化。与指纹计算共用同一份输入，
// 同义请求（大小写、首尾空白、列表顺序）必须归一到相同参数。
func (r *WorkoutPlanRequest) Normalize() {
	r.Goal = strings.TrimSpace(r.Goal)
	r.Level = strings.ToLower(strings.TrimSpace(r.Level))
	r.Equipment = strings.TrimSpace(r.Equipment)
	r.Restrictions = normalizeList(r.Restrictions)
}

// ToParams 转换为管线参数
func (r *WorkoutPlanRequest) ToParams() plan.WorkoutParams {
	return plan.WorkoutParams{
		Goal:           r.Goal,
		DaysPerWeek:    r.DaysPerWeek,
		Level:          r.Level,
		Equipment:      r.Equipment,
		SessionMinutes: r.SessionMinutes,
		Restrictions:   r.Restrictions,
	}
}

// Validate 绑定通过后的业务校验
func (r *MealPlanRequest) Validate() []string {
	return nil
}

// Normalize 请求参数规范化
func (r *MealPlanRequest) Normalize() {
	r.Goal = strings.TrimSpace(r.Goal)
	r.Diet = strings.ToLower(strings.TrimSpace(r.Diet))
	if r.MealsPerDay == 0 {
		r.MealsPerDay = 3
	}
	r.Allergies = normalizeList(r.Allergies)
}

// ToParams 转换为管线参数
func (r *MealPlanRequest) ToParams() plan.MealParams {
	return plan.MealParams{
		Goal:          r.Goal,
		DailyCalories: r.DailyCalories,
		Diet:          r.Diet,
		MealsPerDay:   r.MealsPerDay,
		Allergies:     r.Allergies,
	}
}

// normalizeList 去空白、转小写、去重并排序，使列表顺序不影响指纹
func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	// 插入排序，列表很短
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// PlanRecordResponse 历史计划响应
type PlanRecordResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Payload    any    `json:"payload"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	RetryCount int    `json:"retry_count"`
	CreatedAt  string `json:"created_at"`
}

// NewPlanRecordResponse 从领域实体构建响应
func NewPlanRecordResponse(rec *entity.PlanRecord) *PlanRecordResponse {
	return &PlanRecordResponse{
		ID:         rec.ID,
		Kind:       string(rec.Kind),
		Payload:    rec.Payload,
		Provider:   rec.Provider,
		Model:      rec.Model,
		RetryCount: rec.RetryCount,
		CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// BindingErrorDetail 把 gin 绑定错误整理为 400 详情
func BindingErrorDetail(err error) *ErrorDetail {
	return &ErrorDetail{
		ErrorCode: "1001",
		Details:   fmt.Sprintf("request validation failed: %v", err),
	}
}
