package workflow

import (
	"context"

	"imx-batch/internal/account"
	"imx-batch/internal/remote"
	"imx-batch/internal/retry"
	"imx-batch/internal/session"
)

// Action 为轮转交接中每个账户要执行的远端动作。
type Action func(ctx context.Context, rec account.Record) error

// RotatingHandoff 按加载顺序遍历分组：资金持有游标从首账户出发，
// 每轮先把作业金额转给当前账户（持有者自身除外），动作成功后游标
// 前移到该账户；全组结束后由最终持有者把可支配余额扫回 root。
//
// 转账预算耗尽时默认跳过该账户继续（AbortOnTransferFailure 打开时
// 中止整组）；动作预算耗尽时总是中止整组。
func RotatingHandoff(ctx context.Context, env Env, cfg Config, group *account.Group, root remote.Client, action Action) error {
	if group.Len() == 0 {
		env.push("---- file is empty! ----", session.SeverityError)
		return nil
	}

	if root == nil {
		root = group.Records[0].Client
	}
	rootAddr := root.Address()

	holder := group.Records[0].Client
	ok, err := EnsureFunded(ctx, env, cfg, holder, root)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for _, rec := range group.Records {
		if err := ctx.Err(); err != nil {
			return err
		}

		addr := rec.Client.Address()
		env.pushf(session.SeverityInfo, "Selected Address: %s", addr)

		prev := holder
		if prev.Address() != addr {
			if err := TransferWithRetry(ctx, env, cfg, prev, addr, cfg.TransferAmount, cfg.TransferGas); err != nil {
				if cfg.AbortOnTransferFailure {
					return err
				}
				env.pushf(session.SeverityWarning, "Skip %s because transfer failed!", addr)
				continue
			}
			if err := cfg.sleep(ctx, cfg.HopDelay); err != nil {
				return err
			}
		}

		err := retry.Do(ctx, cfg.retryConfig(cfg.ActionRetry), func() error {
			if err := action(ctx, rec); err != nil {
				env.pushf(session.SeverityWarning, "Action failed on %s: %v, retrying ...", addr, err)
				return err
			}
			return nil
		})
		if err != nil {
			env.pushf(session.SeverityError, "Action failed on %s: %v", addr, err)
			return err
		}

		if cfg.SweepEachHop && prev.Address() != rootAddr && prev.Address() != addr {
			if err := cfg.sleep(ctx, cfg.BalanceWaitDelay); err != nil {
				return err
			}
			if err := SweepBack(ctx, env, cfg, prev, rootAddr); err != nil {
				return err
			}
		}

		holder = rec.Client
	}

	if holder.Address() != rootAddr {
		if err := SweepBack(ctx, env, cfg, holder, rootAddr); err != nil {
			return err
		}
	}

	env.push("Finished all addresses!", session.SeveritySuccess)
	return nil
}
