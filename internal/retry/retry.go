// Package retry 实现固定间隔重试。刻意不做指数退避：
// 上游流程依赖可预测的节奏，唯一的长等待是冷却（cooldown）路径。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config 控制一次重试执行。每次调用 Do 都是全新的预算，成功之间不保留状态。
type Config struct {
	// MaxAttempts 为总尝试次数上限（含首次）。
	MaxAttempts int
	// Delay 为普通失败后的固定等待。
	Delay time.Duration
	// CooldownDelay 在 CooldownMatch 命中时替代 Delay，通常远大于 Delay。
	CooldownDelay time.Duration
	// CooldownMatch 判断错误是否命中冷却签名（如上游网络未就绪）。
	CooldownMatch func(error) bool
	// PermanentMatch 命中时立即放弃剩余预算，错误原样返回。
	PermanentMatch func(error) bool
	// Sleep 可注入以便测试或取消；为 nil 时使用带 ctx 的默认实现。
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError 表示重试预算耗尽，保留最后一次错误。
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("重试 %d 次后仍失败: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted 判断错误是否为重试耗尽。
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Do 反复执行 op 直至成功或预算耗尽。结果通过闭包捕获返回。
// 最后一次失败后不再等待。
func Do(ctx context.Context, cfg Config, op func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if cfg.PermanentMatch != nil && cfg.PermanentMatch(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		wait := cfg.Delay
		if cfg.CooldownMatch != nil && cfg.CooldownMatch(lastErr) && cfg.CooldownDelay > 0 {
			wait = cfg.CooldownDelay
		}

		if wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	return &ExhaustedError{Attempts: cfg.MaxAttempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
