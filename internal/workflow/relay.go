package workflow

import (
	"context"

	"imx-batch/internal/account"
	"imx-batch/internal/remote"
	"imx-batch/internal/retry"
	"imx-batch/internal/session"
)

// 单笔撮合的订单生命周期。远端丢单（not found 签名）时回退到
// stateNoOrder 重建订单，而不是原地重试吃单。
type orderState int

const (
	stateNoOrder orderState = iota
	stateOrderCreated
	stateFulfilled
)

// waitAfterFailure 依据错误内容选择等待时长：命中网络未检出签名时
// 用冷却时长替换常规重试间隔。
func waitAfterFailure(ctx context.Context, env Env, cfg Config, plan RetryPlan, err error) error {
	wait := plan.Delay
	if remote.IsNetworkNotDetected(err) {
		env.pushf(session.SeverityWarning, "Could not detect network, cooling down for %s ...", cfg.CooldownDelay)
		wait = cfg.CooldownDelay
	}
	return cfg.sleep(ctx, wait)
}

// waitForBalance 轮询直到余额覆盖吃单金额。余额确实不足时只受 ctx
// 约束持续等待；查询本身失败则消耗余额重试预算，连续耗尽即返回错误。
func waitForBalance(ctx context.Context, env Env, cfg Config, client remote.Client, required float64) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := client.GetBalance(ctx, "")
		if err != nil {
			failures++
			env.pushf(session.SeverityWarning, "Get balance failed: %v, retrying ...", err)
			if failures >= cfg.BalanceRetry.MaxAttempts {
				return &retry.ExhaustedError{Attempts: failures, Last: err}
			}
			if werr := waitAfterFailure(ctx, env, cfg, cfg.BalanceRetry, err); werr != nil {
				return werr
			}
			continue
		}
		failures = 0

		if parseBalance(res) >= required {
			return nil
		}
		env.pushf(session.SeverityError, "Insufficient balance on %s, starting delay for %s ...", client.Address(), cfg.BalanceWaitDelay)
		if err := cfg.sleep(ctx, cfg.BalanceWaitDelay); err != nil {
			return err
		}
	}
}

// tradeHop 执行一跳撮合：seller 挂单、buyer 吃单，共享一个交易重试
// 预算。返回 false 且无错误表示 seller 缺少挂单资产被跳过。
func tradeHop(ctx context.Context, env Env, cfg Config, seller, buyer account.Record) (bool, error) {
	addr := seller.Client.Address()
	env.pushf(session.SeverityInfo, "Selected Address: %s", addr)

	if !seller.HasSellTarget() {
		env.pushf(session.SeverityWarning, "No tokenId found on %s, skip!", addr)
		return false, nil
	}

	state := stateNoOrder
	orderID := ""
	attempts := 0
	var lastErr error

	for state != stateFulfilled {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if attempts >= cfg.TradeRetry.MaxAttempts {
			return false, &retry.ExhaustedError{Attempts: attempts, Last: lastErr}
		}

		switch state {
		case stateNoOrder:
			env.push("Creating Order ...", session.SeverityInfo)
			created, err := seller.Client.Sell(ctx, remote.SellRequest{
				PayAmount:   cfg.SellAmount,
				ContractRef: seller.SellTarget.ContractRef,
				ItemRef:     seller.SellTarget.ItemRef,
				Price:       cfg.SellAmount,
			}, cfg.SellGas, cfg.SellVariant)
			if err != nil {
				if remote.IsPermanent(err) {
					return false, err
				}
				attempts++
				lastErr = err
				env.pushf(session.SeverityWarning, "Create order failed: %v, retrying ...", err)
				if werr := waitAfterFailure(ctx, env, cfg, cfg.TradeRetry, err); werr != nil {
					return false, werr
				}
				continue
			}
			orderID = created.OrderID
			env.pushf(session.SeveritySuccess, "Order created: %s", orderID)
			state = stateOrderCreated

		case stateOrderCreated:
			if err := waitForBalance(ctx, env, cfg, buyer.Client, cfg.SellAmount); err != nil {
				return false, err
			}

			env.push("Creating Trade ...", session.SeverityInfo)
			err := buyer.Client.Buy(ctx, remote.BuyRequest{
				OrderID: orderID,
				Amount:  cfg.SellAmount,
				Price:   cfg.SellAmount,
			}, cfg.TradeGas)
			if err == nil {
				env.pushf(session.SeveritySuccess, "Trade success, order %s", orderID)
				state = stateFulfilled
				continue
			}

			attempts++
			lastErr = err
			if remote.IsOrderMissing(err) {
				env.push("Order not found, creating order again ...", session.SeverityWarning)
				state = stateNoOrder
				continue
			}
			if remote.IsPermanent(err) {
				return false, err
			}
			env.pushf(session.SeverityWarning, "Trade failed: %v, retrying ...", err)
			if werr := waitAfterFailure(ctx, env, cfg, cfg.TradeRetry, err); werr != nil {
				return false, werr
			}
		}
	}

	return true, nil
}

// SellFulfillRelay 为挂单-吃单接力：首账户为首发吃单方，其余账户
// 依次挂单并由当前吃单方成交，成交后吃单方前移；收尾一跳由首账户
// 挂单、最后一个吃单方成交，使资产回到链路起点。
func SellFulfillRelay(ctx context.Context, env Env, cfg Config, group *account.Group) error {
	if group.Len() == 0 {
		env.push("---- file is empty! ----", session.SeverityError)
		return nil
	}

	records := group.Records
	rootRec := records[0]
	fulfiller := rootRec

	for _, seller := range records[1:] {
		fulfilled, err := tradeHop(ctx, env, cfg, seller, fulfiller)
		if err != nil {
			return err
		}
		if fulfilled {
			fulfiller = seller
		}
	}

	env.push("Finished all addresses!", session.SeveritySuccess)

	if len(records) > 1 {
		env.push("Turn to execute first address!", session.SeverityInfo)
		if _, err := tradeHop(ctx, env, cfg, rootRec, fulfiller); err != nil {
			return err
		}
	}
	return nil
}

// fulfillExisting 吃掉一笔预建订单，整个吃单在交易重试预算内执行。
func fulfillExisting(ctx context.Context, env Env, cfg Config, buyer account.Record, orderID string) error {
	env.pushf(session.SeverityInfo, "Creating Trade for order %s ...", orderID)

	err := retry.Do(ctx, cfg.retryConfig(cfg.TradeRetry), func() error {
		err := buyer.Client.Buy(ctx, remote.BuyRequest{
			OrderID: orderID,
			Amount:  cfg.SellAmount,
			Price:   cfg.SellAmount,
		}, cfg.TradeGas)
		if err != nil {
			env.pushf(session.SeverityWarning, "Trade failed: %v, retrying ...", err)
		}
		return err
	})
	if err != nil {
		env.pushf(session.SeverityError, "Trade for order %s failed: %v", orderID, err)
		return err
	}

	env.pushf(session.SeveritySuccess, "Trade success, order %s", orderID)
	return nil
}

// ParityRelay 按序号奇偶分流：偶数账户的预建订单由当前吃单方成交，
// 该账户随后成为资金池；奇数账户从资金池收款后成为下一任吃单方。
// 吃单预算耗尽只跳过该单并照常轮换资金池，转账预算耗尽才中止整组；
// 结束时资金池把作业金额转回首账户。
func ParityRelay(ctx context.Context, env Env, cfg Config, group *account.Group) error {
	if group.Len() == 0 {
		env.push("---- file is empty! ----", session.SeverityError)
		return nil
	}

	records := group.Records
	rootRec := records[0]
	rootAddr := rootRec.Client.Address()

	rootWallet := rootRec // 当前吃单方
	poolWallet := rootRec // 当前资金池

	for _, rec := range records[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}

		addr := rec.Client.Address()
		env.pushf(session.SeverityInfo, "Selected Address: %s", addr)

		if rec.SequenceIndex%2 == 0 {
			if rec.OrderRef == "" {
				env.push("Skip this address because orderId is empty!", session.SeverityWarning)
				continue
			}
			if err := fulfillExisting(ctx, env, cfg, rootWallet, rec.OrderRef); err != nil {
				if ctx.Err() != nil {
					return err
				}
				env.push("Maximum retry attempts reached, move to next address!", session.SeverityWarning)
			}
			poolWallet = rec
		} else {
			if err := TransferWithRetry(ctx, env, cfg, poolWallet.Client, addr, cfg.TransferAmount, cfg.TransferGas); err != nil {
				return err
			}
			rootWallet = rec
		}
	}

	env.push("Finished all addresses!", session.SeveritySuccess)

	if poolWallet.Client.Address() != rootAddr {
		return TransferWithRetry(ctx, env, cfg, poolWallet.Client, rootAddr, cfg.TransferAmount, cfg.TransferGas)
	}
	return nil
}

// RewardTradeHandoff 围绕单一奖励资产做轮转自成交：资产持有方挂单，
// 当前账户在 root 备款后吃单接手，上一手卖家把余款扫回 root；
// 全组结束后资产与余款都回到 root。
func RewardTradeHandoff(ctx context.Context, env Env, cfg Config, group *account.Group, root remote.Client) error {
	if group.Len() == 0 {
		env.push("---- file is empty! ----", session.SeverityError)
		return nil
	}
	if cfg.RewardContract == "" || cfg.RewardItem == "" {
		env.push("Reward asset is not configured, skip!", session.SeverityError)
		return nil
	}

	if root == nil {
		root = group.Records[0].Client
	}
	rootAddr := root.Address()
	seller := root

	for _, rec := range group.Records {
		if err := ctx.Err(); err != nil {
			return err
		}

		addr := rec.Client.Address()
		if addr == rootAddr {
			continue
		}

		if err := TransferWithRetry(ctx, env, cfg, root, addr, cfg.TransferAmount, cfg.TransferGas); err != nil {
			if cfg.AbortOnTransferFailure {
				return err
			}
			env.pushf(session.SeverityWarning, "Skip %s because transfer failed!", addr)
			continue
		}
		if err := cfg.sleep(ctx, cfg.HopDelay); err != nil {
			return err
		}

		sellerRec := account.Record{
			Handle: seller.Address(),
			Client: seller,
			SellTarget: &account.SellTarget{
				ContractRef: cfg.RewardContract,
				ItemRef:     cfg.RewardItem,
			},
		}
		if _, err := tradeHop(ctx, env, cfg, sellerRec, rec); err != nil {
			return err
		}

		if seller.Address() != rootAddr {
			if err := cfg.sleep(ctx, cfg.BalanceWaitDelay); err != nil {
				return err
			}
			if err := SweepBack(ctx, env, cfg, seller, rootAddr); err != nil {
				return err
			}
		}
		seller = rec.Client
	}

	if seller.Address() != rootAddr {
		env.pushf(session.SeverityInfo, "Returning reward asset to %s ...", rootAddr)
		err := retry.Do(ctx, cfg.retryConfig(cfg.TransferRetry), func() error {
			return seller.Transfer(ctx, remote.TransferRequest{
				Receiver: rootAddr,
				Token:    cfg.RewardContract,
				ItemRef:  cfg.RewardItem,
			}, cfg.TransferGas)
		})
		if err != nil {
			env.pushf(session.SeverityError, "Return reward asset failed: %v", err)
			return err
		}
		if err := SweepBack(ctx, env, cfg, seller, rootAddr); err != nil {
			return err
		}
	}

	env.push("Finished all addresses!", session.SeveritySuccess)
	return nil
}
