package model

// WorkoutPlanInput 训练计划生成工作流的输入
type WorkoutPlanInput struct {
	Provider string
	Model    string
	Tuning   LLMTuning

	Goal           string
	DaysPerWeek    int
	Level          string
	Equipment      string
	SessionMinutes int
	Restrictions   string
}

// MealPlanInput 饮食计划生成工作流的输入
type MealPlanInput struct {
	Provider string
	Model    string
	Tuning   LLMTuning

	Goal          string
	DailyCalories int
	Diet          string
	MealsPerDay   int
	Allergies     string
	Days          int
}
