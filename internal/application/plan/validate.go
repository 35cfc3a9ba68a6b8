package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError 结构校验失败，Issues 为 路径+原因 列表
type ValidationError struct {
	Issues []string
}

func (e ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "plan validation failed"
	}
	return "plan validation failed: " + strings.Join(e.Issues, "; ")
}

// ParseWorkoutPlan 解码并校验训练计划。
// 未知字段忽略（提示词演进的前向兼容）；所有失败以返回值形式给出，不 panic。
func ParseWorkoutPlan(raw []byte, days int) (*WorkoutPlan, error) {
	var p WorkoutPlan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ValidationError{Issues: []string{"payload is not a valid workout plan object: " + err.Error()}}
	}

	var issues []string

	if strings.TrimSpace(p.Summary.Goal) == "" {
		issues = append(issues, "summary.goal is required")
	}
	if p.Summary.DaysPerWeek <= 0 {
		issues = append(issues, "summary.days_per_week must be positive")
	}
	if len(p.Workouts) == 0 {
		issues = append(issues, "workouts is required")
	}

	for day := 1; day <= days; day++ {
		key := fmt.Sprintf("day%d", day)
		d, ok := p.Workouts[key]
		if !ok {
			issues = append(issues, "workouts."+key+" is required")
			continue
		}
		if len(d.Exercises) == 0 {
			issues = append(issues, "workouts."+key+".exercises must not be empty")
		}
		for i, ex := range d.Exercises {
			path := fmt.Sprintf("workouts.%s.exercises[%d]", key, i)
			if strings.TrimSpace(ex.Name) == "" {
				issues = append(issues, path+".name is required")
			}
			if ex.Sets < 0 {
				issues = append(issues, path+".sets must not be negative")
			}
			if ex.RestSeconds < 0 {
				issues = append(issues, path+".rest_seconds must not be negative")
			}
		}
	}

	if len(issues) > 0 {
		return nil, ValidationError{Issues: issues}
	}
	return &p, nil
}

// ParseMealPlan 解码并校验膳食计划
func ParseMealPlan(raw []byte, days int) (*MealPlan, error) {
	var p MealPlan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ValidationError{Issues: []string{"payload is not a valid meal plan object: " + err.Error()}}
	}

	var issues []string

	if strings.TrimSpace(p.Summary.Goal) == "" {
		issues = append(issues, "summary.goal is required")
	}
	if p.Summary.DailyCalories < 0 {
		issues = append(issues, "summary.daily_calories must not be negative")
	}
	if len(p.Meals) == 0 {
		issues = append(issues, "meals is required")
	}

	for day := 1; day <= days; day++ {
		key := fmt.Sprintf("day%d", day)
		meals, ok := p.Meals[key]
		if !ok {
			issues = append(issues, "meals."+key+" is required")
			continue
		}
		if len(meals) == 0 {
			issues = append(issues, "meals."+key+" must not be empty")
		}
		for i, meal := range meals {
			mPath := fmt.Sprintf("meals.%s[%d]", key, i)
			if strings.TrimSpace(meal.Name) == "" {
				issues = append(issues, mPath+".name is required")
			}
			if len(meal.Foods) == 0 {
				issues = append(issues, mPath+".foods must not be empty")
			}
			for j, food := range meal.Foods {
				fPath := fmt.Sprintf("%s.foods[%d]", mPath, j)
				if strings.TrimSpace(food.Name) == "" {
					issues = append(issues, fPath+".name is required")
				}
				if food.Grams < 0 {
					issues = append(issues, fPath+".grams must not be negative")
				}
				if food.Calories < 0 {
					issues = append(issues, fPath+".calories must not be negative")
				}
				if food.Protein < 0 || food.Carbs < 0 || food.Fat < 0 {
					issues = append(issues, fPath+" macros must not be negative")
				}
			}
			if meal.Totals != nil {
				if meal.Totals.Calories < 0 || meal.Totals.Protein < 0 || meal.Totals.Carbs < 0 || meal.Totals.Fat < 0 {
					issues = append(issues, mPath+".totals must not be negative")
				}
			}
		}
	}

	if len(issues) > 0 {
		return nil, ValidationError{Issues: issues}
	}
	return &p, nil
}
