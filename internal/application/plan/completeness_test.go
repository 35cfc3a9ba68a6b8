package plan

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workoutDays(n int) map[string]any {
	workouts := map[string]any{}
	for i := 1; i <= n; i++ {
		workouts[fmt.Sprintf("day%d", i)] = map[string]any{
			"focus":     "full body",
			"exercises": []any{map[string]any{"name": "squat", "sets": 3, "reps": "8-12"}},
		}
	}
	return map[string]any{"workouts": workouts}
}

func TestCheckCompletenessPasses(t *testing.T) {
	assert.NoError(t, CheckCompleteness(KindWorkout, workoutDays(5), 5))
}

func TestCheckCompletenessNamesMissingDay(t *testing.T) {
	parsed := workoutDays(5)
	delete(parsed["workouts"].(map[string]any), "day5")

	err := CheckCompleteness(KindWorkout, parsed, 5)
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))
	assert.Contains(t, err.Error(), "day5")
}

func TestCheckCompletenessEmptyExercises(t *testing.T) {
	parsed := workoutDays(3)
	parsed["workouts"].(map[string]any)["day2"] = map[string]any{
		"focus":     "legs",
		"exercises": []any{},
	}

	err := CheckCompleteness(KindWorkout, parsed, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "day2")
	assert.Contains(t, err.Error(), "no exercises")
}

func TestCheckCompletenessMissingSection(t *testing.T) {
	err := CheckCompleteness(KindWorkout, map[string]any{"summary": map[string]any{}}, 3)
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))
}

func TestCheckCompletenessMeal(t *testing.T) {
	meals := map[string]any{}
	for i := 1; i <= 7; i++ {
		meals[fmt.Sprintf("day%d", i)] = []any{map[string]any{"name": "oatmeal"}}
	}
	parsed := map[string]any{"meals": meals}
	assert.NoError(t, CheckCompleteness(KindMeal, parsed, 7))

	delete(meals, "day4")
	err := CheckCompleteness(KindMeal, parsed, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "day4")
}

// 截断但格式良好的响应必须先被完整性检查拦下，报告的是缺天而非结构错误
func TestTruncatedPayloadFailsCompletenessBeforeSchema(t *testing.T) {
	raw, err := json.Marshal(workoutDays(2))
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))

	err = CheckCompleteness(KindWorkout, parsed, 3)
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))
	assert.Contains(t, err.Error(), "day3")
}
