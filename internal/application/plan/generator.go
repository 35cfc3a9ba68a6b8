package plan

import (
	"context"
	"encoding/json"
	"strings"

	"fitplan-ai-api/internal/workflow/node"
)

// TokenStream 上游模型的令牌流，Recv 以 io.EOF 结束
type TokenStream interface {
	Recv() (string, error)
	Close()
}

// Generator 上游 LLM 的抽象。
// Stream 打开令牌流用于首次生成；Generate 执行一次非流式、
// 强制 JSON 输出的完整重新生成，供重试路径使用。
type Generator interface {
	Stream(ctx context.Context, req *Request) (TokenStream, error)
	Generate(ctx context.Context, req *Request) (string, error)
}

// ValidateAssembled 对拼装完成的模型输出执行 完整性检查 -> 结构校验 -> 消毒，
// 返回可直接下发/落库的最终 payload。
// 完整性检查先行：截断但结构完好的输出是流式 LLM 最常见的失败模式，
// 先报真实根因便于重试日志定位。
func ValidateAssembled(req *Request, text string) (json.RawMessage, error) {
	raw := node.ExtractJSONObject(text)

	var parsed map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, ValidationError{Issues: []string{"output is not a JSON object: " + err.Error()}}
	}

	days := req.ExpectedDays()
	if err := CheckCompleteness(req.Kind, parsed, days); err != nil {
		return nil, err
	}

	switch req.Kind {
	case KindWorkout:
		p, err := ParseWorkoutPlan([]byte(raw), days)
		if err != nil {
			return nil, err
		}
		p.Sanitize()
		return json.Marshal(p)
	case KindMeal:
		p, err := ParseMealPlan([]byte(raw), days)
		if err != nil {
			return nil, err
		}
		p.Sanitize()
		return json.Marshal(p)
	default:
		return nil, ValidationError{Issues: []string{"unknown plan kind: " + string(req.Kind)}}
	}
}
