package workflow

import (
	"context"

	"imx-batch/internal/account"
	"imx-batch/internal/remote"
	"imx-batch/internal/session"
)

// PreCreateOrders 在接力开跑前为每个账户预建卖单：先撤掉账户已有
// 挂单，再挂出新单并把订单号写回记录。单个账户失败只记日志，
// 该账户以空订单号进入结果分组，由后续流程按空订单号跳过。
// 返回的新分组与入参等长且顺序一致，入参分组不被修改。
func PreCreateOrders(ctx context.Context, env Env, cfg Config, group *account.Group) (*account.Group, error) {
	records := make([]account.Record, 0, group.Len())

	for _, rec := range group.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		addr := rec.Client.Address()
		env.pushf(session.SeverityInfo, "Selected Address: %s", addr)

		if !rec.HasSellTarget() {
			env.pushf(session.SeverityWarning, "No tokenId found on %s, push empty orderId!", addr)
			records = append(records, rec)
			continue
		}

		env.push("Fetching orders ...", session.SeverityInfo)
		orders, err := rec.Client.GetOrders(ctx, addr)
		if err != nil {
			env.pushf(session.SeverityError, "Fetch orders failed: %v", err)
			records = append(records, rec)
			continue
		}
		env.pushf(session.SeverityInfo, "Found %d active orders", len(orders.Result))

		cancelFailed := false
		for _, order := range orders.Result {
			env.pushf(session.SeverityInfo, "Cancelling order %s ...", order.ID)
			if err := rec.Client.CancelOrder(ctx, order.ID); err != nil {
				env.pushf(session.SeverityError, "Cancel order %s failed: %v", order.ID, err)
				cancelFailed = true
				break
			}
		}
		if cancelFailed {
			records = append(records, rec)
			continue
		}

		created, err := rec.Client.Sell(ctx, remote.SellRequest{
			PayAmount:   cfg.SellAmount,
			ContractRef: rec.SellTarget.ContractRef,
			ItemRef:     rec.SellTarget.ItemRef,
			Price:       cfg.SellAmount,
		}, cfg.SellGas, cfg.SellVariant)
		if err != nil {
			env.pushf(session.SeverityError, "Create order failed: %v", err)
			records = append(records, rec)
			continue
		}

		env.pushf(session.SeveritySuccess, "Order created: %s", created.OrderID)
		records = append(records, rec.WithOrder(created.OrderID))
	}

	env.push("Pre-create orders finished!", session.SeveritySuccess)
	return account.NewGroup(group.Label, records), nil
}
