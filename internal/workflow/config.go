// Package workflow 实现多账户批量编排：资金保障、轮转交接、
// 挂单-吃单接力以及会话运行器。
package workflow

import (
	"context"
	"time"

	"imx-batch/internal/remote"
	"imx-batch/internal/retry"
)

// RetryPlan 为单类操作的固定间隔重试预算。
type RetryPlan struct {
	MaxAttempts int
	Delay       time.Duration
}

// Config 汇总一次工作流执行的全部数值参数。
// 不同流程变体的差异（预算、延迟、失败策略）都显式落在这里。
type Config struct {
	SellAmount     float64
	SellVariant    string
	TransferAmount float64
	Threshold      float64

	// 可支配余额 = 原始余额 - FeeReserve - GasReserve。
	FeeReserve float64
	GasReserve float64
	SweepMin   float64

	SettleDelay      time.Duration
	ConfirmRetries   int
	ConfirmDelay     time.Duration
	HopDelay         time.Duration
	BalanceWaitDelay time.Duration
	CooldownDelay    time.Duration

	AbortOnTransferFailure bool
	SweepEachHop           bool

	BalanceRetry  RetryPlan
	TransferRetry RetryPlan
	TradeRetry    RetryPlan
	ActionRetry   RetryPlan
	RewardRetry   RetryPlan

	TradeGas    *remote.GasOverrides
	TransferGas *remote.GasOverrides
	SellGas     *remote.GasOverrides

	RewardContract string
	RewardItem     string

	// Sleep 可注入以便测试；为 nil 时使用带 ctx 的默认实现。
	Sleep func(ctx context.Context, d time.Duration) error
}

// retryConfig 将重试预算展开为 retry.Config，统一挂接冷却签名，
// 并对明确不可重试的交易所错误直接放弃剩余预算。
func (c Config) retryConfig(plan RetryPlan) retry.Config {
	return retry.Config{
		MaxAttempts:    plan.MaxAttempts,
		Delay:          plan.Delay,
		CooldownDelay:  c.CooldownDelay,
		CooldownMatch:  remote.IsNetworkNotDetected,
		PermanentMatch: remote.IsPermanent,
		Sleep:          c.Sleep,
	}
}

func (c Config) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
