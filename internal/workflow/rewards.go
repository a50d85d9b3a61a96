package workflow

import (
	"context"
	"strconv"

	"imx-batch/internal/account"
	"imx-batch/internal/remote"
	"imx-batch/internal/retry"
	"imx-batch/internal/session"
)

// GemHarvest 以轮转交接的方式逐账户领取 gem 奖励单元。
func GemHarvest(ctx context.Context, env Env, cfg Config, group *account.Group, root remote.Client) error {
	return RotatingHandoff(ctx, env, cfg, group, root, func(ctx context.Context, rec account.Record) error {
		if err := rec.Client.HarvestGem(ctx, cfg.TradeGas); err != nil {
			return err
		}
		env.pushf(session.SeveritySuccess, "%s get Gem success!", rec.Client.Address())
		return nil
	})
}

// ClaimRewardsFlow 逐账户查询奖励计划并领取可领部分。账户之间互不
// 影响：查询失败、无可领额度或领取失败都只记日志并继续下一个。
func ClaimRewardsFlow(ctx context.Context, env Env, cfg Config, group *account.Group) error {
	if group.Len() == 0 {
		env.push("---- file is empty! ----", session.SeverityError)
		return nil
	}

	var total float64
	for _, rec := range group.Records {
		if err := ctx.Err(); err != nil {
			return err
		}

		addr := rec.Client.Address()
		env.pushf(session.SeverityInfo, "Selected Address: %s", addr)

		status, err := rec.Client.RewardStatus(ctx)
		if err != nil {
			env.pushf(session.SeverityError, "Get reward status failed: %v", err)
			continue
		}
		if status.Claimable <= 0 {
			env.push("claimable_amount is less than 0, this wallet can not be proceed next!", session.SeverityWarning)
			continue
		}

		var claimed string
		err = retry.Do(ctx, cfg.retryConfig(cfg.RewardRetry), func() error {
			c, err := rec.Client.ClaimRewards(ctx)
			if err != nil {
				env.pushf(session.SeverityWarning, "Claim failed: %v, retrying ...", err)
				return err
			}
			claimed = c
			return nil
		})
		if err != nil {
			env.pushf(session.SeverityError, "Claim rewards on %s failed: %v", addr, err)
			continue
		}

		amount, parseErr := strconv.ParseFloat(claimed, 64)
		if parseErr == nil {
			total += amount
		}
		env.pushf(session.SeveritySuccess, "Claimed %s on %s!", claimed, addr)
	}

	env.pushf(session.SeveritySuccess, "Total claimed: %s", formatAmount(total))
	return nil
}
