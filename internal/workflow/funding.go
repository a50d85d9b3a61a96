package workflow

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"imx-batch/internal/remote"
	"imx-batch/internal/retry"
	"imx-batch/internal/session"
)

// balanceOf 带重试查询余额。预算耗尽时返回错误，调用方决定降级方式。
func balanceOf(ctx context.Context, env Env, cfg Config, client remote.Client, owner string) (float64, error) {
	var result remote.BalanceResult
	err := retry.Do(ctx, cfg.retryConfig(cfg.BalanceRetry), func() error {
		res, err := client.GetBalance(ctx, owner)
		if err != nil {
			env.pushf(session.SeverityWarning, "Get balance failed: %v, retrying ...", err)
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return 0, err
	}
	return parseBalance(result), nil
}

// TransferWithRetry 在转账重试预算内执行一次转账。
func TransferWithRetry(ctx context.Context, env Env, cfg Config, from remote.Client, receiver string, amount float64, gas *remote.GasOverrides) error {
	env.pushf(session.SeverityInfo, "Transferring %s to %s ...", formatAmount(amount), receiver)

	err := retry.Do(ctx, cfg.retryConfig(cfg.TransferRetry), func() error {
		err := from.Transfer(ctx, remote.TransferRequest{
			Receiver: receiver,
			Amount:   amount,
		}, gas)
		if err != nil {
			env.pushf(session.SeverityWarning, "Transfer failed: %v, retrying ...", err)
		}
		return err
	})
	if err != nil {
		env.pushf(session.SeverityError, "Transfer to %s failed: %v", receiver, err)
		return err
	}

	env.push("Transfer success!", session.SeveritySuccess)
	return nil
}

// EnsureFunded 保证 holder 余额达到阈值。余额足够时不发任何转账；
// 不足时从 root 补足阈值金额，再经结算延迟与有限次确认轮询验证到账。
// 返回 false 表示资金不可用且不视为错误（root 余额不足或到账未确认），
// 调用方应静默跳过该分组；补款转账本身失败则作为错误上抛。
func EnsureFunded(ctx context.Context, env Env, cfg Config, holder, root remote.Client) (bool, error) {
	balance, err := balanceOf(ctx, env, cfg, holder, "")
	if err != nil {
		return false, err
	}
	if balance >= cfg.Threshold {
		env.pushf(session.SeverityInfo, "Balance of %s is enough: %s", holder.Address(), formatAmount(balance))
		return true, nil
	}

	env.pushf(session.SeverityInfo, "Balance of %s is %s, need funding ...", holder.Address(), formatAmount(balance))

	rootBalance, err := balanceOf(ctx, env, cfg, root, "")
	if err != nil {
		return false, err
	}
	if rootBalance < cfg.Threshold {
		env.pushf(session.SeverityWarning, "Root balance %s is not enough, skip this group!", formatAmount(rootBalance))
		return false, nil
	}

	if err := TransferWithRetry(ctx, env, cfg, root, holder.Address(), cfg.Threshold, cfg.TransferGas); err != nil {
		return false, err
	}

	if err := cfg.sleep(ctx, cfg.SettleDelay); err != nil {
		return false, err
	}

	for i := 0; i < cfg.ConfirmRetries; i++ {
		balance, err = balanceOf(ctx, env, cfg, holder, "")
		if err != nil {
			return false, err
		}
		if balance >= cfg.Threshold {
			env.push("Funding confirmed!", session.SeveritySuccess)
			return true, nil
		}
		env.pushf(session.SeverityInfo, "Balance not updated yet, waiting ... (%d/%d)", i+1, cfg.ConfirmRetries)
		if err := cfg.sleep(ctx, cfg.ConfirmDelay); err != nil {
			return false, err
		}
	}

	env.push("Funding not confirmed in time, skip this group!", session.SeverityWarning)
	return false, nil
}

// SweepBack 将可支配余额扫回 root。可支配余额 = 原始余额 - 手续费
// 预留 - gas 预留；不超过扫回下限时不动作。
func SweepBack(ctx context.Context, env Env, cfg Config, from remote.Client, rootAddr string) error {
	balance, err := balanceOf(ctx, env, cfg, from, "")
	if err != nil {
		return err
	}

	spendable := balance - cfg.FeeReserve - cfg.GasReserve
	if spendable <= cfg.SweepMin {
		env.pushf(session.SeverityInfo, "Nothing to sweep from %s, spendable is %s", from.Address(), formatAmount(spendable))
		return nil
	}

	amount, err := strconv.ParseFloat(formatAmount(spendable), 64)
	if err != nil {
		env.Logger.Warn("扫回金额格式化失败", zap.Float64("spendable", spendable), zap.Error(err))
		amount = spendable
	}

	env.pushf(session.SeverityInfo, "Sweeping %s back to %s ...", formatAmount(amount), rootAddr)
	return TransferWithRetry(ctx, env, cfg, from, rootAddr, amount, cfg.TransferGas)
}
