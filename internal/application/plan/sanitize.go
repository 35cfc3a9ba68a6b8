package plan

import (
	"regexp"
	"strings"
	"unicode"
)

var tagPattern = regexp.MustCompile(`<[^<>]*>`)

// SanitizeString 去除字符串中的控制字符与 HTML 标记。
// 纯函数且幂等：sanitize(sanitize(x)) == sanitize(x)。
func SanitizeString(s string) string {
	// 标签剥离到不动点：嵌套拼接（如 <scr<b>ipt>）单次替换会留下新标签
	for {
		next := tagPattern.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			sb.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || r == 0xFEFF {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.TrimSpace(sb.String())
}

// SanitizeValue 递归遍历任意 JSON 值，对每个字符串叶子做消毒。
// map 与 slice 就地类型重建，其余类型原样返回。
func SanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return SanitizeString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[SanitizeString(k)] = SanitizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// Sanitize 消毒训练计划的全部字符串字段
func (p *WorkoutPlan) Sanitize() {
	p.Summary.Goal = SanitizeString(p.Summary.Goal)
	p.Summary.Level = SanitizeString(p.Summary.Level)
	p.Summary.Equipment = SanitizeString(p.Summary.Equipment)

	for key, day := range p.Workouts {
		day.Focus = SanitizeString(day.Focus)
		for i := range day.Exercises {
			day.Exercises[i].Name = SanitizeString(day.Exercises[i].Name)
			day.Exercises[i].Reps = SanitizeString(day.Exercises[i].Reps)
			day.Exercises[i].Notes = SanitizeString(day.Exercises[i].Notes)
		}
		p.Workouts[key] = day
	}
}

// Sanitize 消毒膳食计划的全部字符串字段
func (p *MealPlan) Sanitize() {
	p.Summary.Goal = SanitizeString(p.Summary.Goal)
	p.Summary.Diet = SanitizeString(p.Summary.Diet)

	for key, meals := range p.Meals {
		for i := range meals {
			meals[i].Name = SanitizeString(meals[i].Name)
			meals[i].Time = SanitizeString(meals[i].Time)
			for j := range meals[i].Foods {
				meals[i].Foods[j].Name = SanitizeString(meals[i].Foods[j].Name)
			}
		}
		p.Meals[key] = meals
	}
}
