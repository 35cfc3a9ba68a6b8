package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	params := WorkoutParams{
		Goal:         "build muscle",
		DaysPerWeek:  4,
		Level:        "intermediate",
		Equipment:    "dumbbells",
		Restrictions: []string{"knee injury"},
	}

	a, err := Fingerprint(KindWorkout, params)
	require.NoError(t, err)
	b, err := Fingerprint(KindWorkout, params)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintIgnoresMapKeyOrder(t *testing.T) {
	// 语义相同但构造顺序不同的参数对象必须产生相同指纹
	m1 := map[string]any{}
	m1["goal"] = "lose weight"
	m1["days_per_week"] = 3
	m1["level"] = "beginner"

	m2 := map[string]any{}
	m2["level"] = "beginner"
	m2["days_per_week"] = 3
	m2["goal"] = "lose weight"

	a, err := Fingerprint(KindWorkout, m1)
	require.NoError(t, err)
	b, err := Fingerprint(KindWorkout, m2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprintVariesByKind(t *testing.T) {
	params := map[string]any{"goal": "maintain"}

	a, err := Fingerprint(KindWorkout, params)
	require.NoError(t, err)
	b, err := Fingerprint(KindMeal, params)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFingerprintVariesByParams(t *testing.T) {
	a, err := Fingerprint(KindMeal, MealParams{Goal: "cut", DailyCalories: 1800})
	require.NoError(t, err)
	b, err := Fingerprint(KindMeal, MealParams{Goal: "cut", DailyCalories: 2000})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFingerprintNestedStructures(t *testing.T) {
	a, err := Fingerprint(KindWorkout, map[string]any{
		"restrictions": []any{"a", "b"},
		"nested":       map[string]any{"y": 2, "x": 1},
	})
	require.NoError(t, err)
	b, err := Fingerprint(KindWorkout, map[string]any{
		"nested":       map[string]any{"x": 1, "y": 2},
		"restrictions": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
