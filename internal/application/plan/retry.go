package plan

import (
	"context"
	"time"
)

// RetryOptions 重试驱动配置
type RetryOptions struct {
	// MaxRetries 首次调用之外的重试次数上限
	MaxRetries int
	// Delay 每次重试前的固定等待时间（非指数退避）
	Delay time.Duration
	// OnRetry 每次重试前的可观测回调，attempt 从 1 开始
	OnRetry func(attempt int, errMsg string)
}

// WithRetry 调用 op；失败且还有重试余量时等待固定间隔后重试，
// 重试前触发 OnRetry(attempt, errMsg)。重试耗尽后返回最后一次错误。
// op 预期执行一次完整的非流式重新生成（LLM 调用+完整性检查+结构校验），
// 因此一次"重试"是彻底重做，而非部分流的续传。
func WithRetry[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts RetryOptions) (T, error) {
	var zero T

	result, err := op(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err.Error())
		}

		if opts.Delay > 0 {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		} else if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
