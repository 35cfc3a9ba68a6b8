package plan

import (
	"fmt"
	"strings"
)

// IncompleteError 表示生成结果缺少请求的天数或某天为空。
// 与结构校验错误区分开，便于按真实根因记录重试日志。
type IncompleteError struct {
	Day    int
	Reason string
}

func (e IncompleteError) Error() string {
	return fmt.Sprintf("incomplete plan: day%d %s", e.Day, e.Reason)
}

// CheckCompleteness 校验解析后的对象是否包含请求的全部天数，
// 且每天至少有一条训练/一餐。流式 LLM 输出最常见的失败模式是
// 截断：JSON 结构完好但天数缺失，因此本检查先于结构校验执行。
func CheckCompleteness(kind Kind, parsed map[string]any, days int) error {
	if days <= 0 {
		return fmt.Errorf("expected day count must be positive, got %d", days)
	}

	var section string
	switch kind {
	case KindWorkout:
		section = "workouts"
	case KindMeal:
		section = "meals"
	default:
		return fmt.Errorf("unknown plan kind: %s", kind)
	}

	body, ok := parsed[section].(map[string]any)
	if !ok {
		return IncompleteError{Day: 1, Reason: fmt.Sprintf("missing (no %q section)", section)}
	}

	for day := 1; day <= days; day++ {
		key := fmt.Sprintf("day%d", day)
		dayVal, ok := body[key]
		if !ok {
			return IncompleteError{Day: day, Reason: "missing"}
		}

		switch kind {
		case KindWorkout:
			dayObj, ok := dayVal.(map[string]any)
			if !ok {
				return IncompleteError{Day: day, Reason: "malformed"}
			}
			exercises, ok := dayObj["exercises"].([]any)
			if !ok || len(exercises) == 0 {
				return IncompleteError{Day: day, Reason: "has no exercises"}
			}
		case KindMeal:
			meals, ok := dayVal.([]any)
			if !ok || len(meals) == 0 {
				return IncompleteError{Day: day, Reason: "has no meals"}
			}
		}
	}

	return nil
}

// IsIncomplete 判断错误是否为完整性错误
func IsIncomplete(err error) bool {
	_, ok := err.(IncompleteError)
	if ok {
		return true
	}
	// 包装过的情况
	return err != nil && strings.Contains(err.Error(), "incomplete plan:")
}
