package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStringStripsMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "bench press", "bench press"},
		{"script tag", "<script>alert(1)</script>squat", "alert(1)squat"},
		{"nested tag", "<scr<b>ipt>deadlift", "deadlift"},
		{"null byte", "row\x00machine", "rowmachine"},
		{"control chars", "plank\x01\x02\x1f", "plank"},
		{"bom", "\ufefflunge", "lunge"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"trims space", "  curl  ", "curl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeString(tt.in))
		})
	}
}

func TestSanitizeStringIdempotent(t *testing.T) {
	inputs := []string{
		"<script>alert('xss')</script>",
		"normal text",
		"nested <di<span>v>markup</div>",
		"control\x00\x07chars​",
		"  spaced\n\tout  ",
		"<>",
		"a < b > c",
	}
	for _, in := range inputs {
		once := SanitizeString(in)
		twice := SanitizeString(once)
		assert.Equal(t, once, twice, "input %q", in)
	}
}

func TestSanitizeValueIdempotent(t *testing.T) {
	v := map[string]any{
		"summary": map[string]any{"goal": "<b>bulk</b>\x00"},
		"workouts": map[string]any{
			"day1": map[string]any{
				"exercises": []any{
					map[string]any{"name": "<script>squat</script>", "sets": float64(3)},
				},
			},
		},
	}

	once := SanitizeValue(v)
	twice := SanitizeValue(once)
	assert.Equal(t, once, twice)

	got := once.(map[string]any)["summary"].(map[string]any)["goal"]
	assert.Equal(t, "bulk", got)
}

func TestWorkoutPlanSanitize(t *testing.T) {
	p := &WorkoutPlan{
		Summary: WorkoutSummary{Goal: "<i>strength</i>", Level: "beginner"},
		Workouts: map[string]WorkoutDay{
			"day1": {
				Focus: "push\x00",
				Exercises: []Exercise{
					{Name: "<script>bench</script>", Sets: 3, Reps: "8-12", Notes: "slow\x1f"},
				},
			},
		},
	}
	p.Sanitize()

	assert.Equal(t, "strength", p.Summary.Goal)
	assert.Equal(t, "push", p.Workouts["day1"].Focus)
	assert.Equal(t, "bench", p.Workouts["day1"].Exercises[0].Name)
	assert.Equal(t, "slow", p.Workouts["day1"].Exercises[0].Notes)

	// 数值字段不受影响
	assert.Equal(t, 3, p.Workouts["day1"].Exercises[0].Sets)
}
