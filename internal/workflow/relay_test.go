package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"imx-batch/internal/account"
	"imx-batch/internal/retry"
)

func TestTradeHop_SellThenBuy(t *testing.T) {
	cfg := testConfig(nil)

	seller := &fakeClient{addr: "s", balances: []string{"1.0"}}
	buyer := &fakeClient{addr: "b", balances: []string{"1.0"}}

	fulfilled, err := tradeHop(context.Background(), testEnv(), cfg, makeRecord(seller, true, 1), makeRecord(buyer, false, 2))
	if err != nil {
		t.Fatalf("tradeHop returned error: %v", err)
	}
	if !fulfilled {
		t.Fatalf("expected fulfilled=true")
	}
	if seller.sells != 1 {
		t.Errorf("expected 1 sell, got %d", seller.sells)
	}
	if len(buyer.buys) != 1 || buyer.buys[0] != "order-s-1" {
		t.Errorf("buyer must fulfill the created order: %v", buyer.buys)
	}
}

func TestTradeHop_OrderMissingTriggersSingleRecreate(t *testing.T) {
	cfg := testConfig(nil)

	seller := &fakeClient{addr: "s", balances: []string{"1.0"}}
	buyer := &fakeClient{addr: "b", balances: []string{"1.0"}, buyErrs: []error{
		errors.New("order 123 not found"),
	}}

	fulfilled, err := tradeHop(context.Background(), testEnv(), cfg, makeRecord(seller, true, 1), makeRecord(buyer, false, 2))
	if err != nil {
		t.Fatalf("tradeHop returned error: %v", err)
	}
	if !fulfilled {
		t.Fatalf("expected fulfilled=true after self heal")
	}

	// 丢单后恰好重建一次，再吃新订单
	if seller.sells != 2 {
		t.Errorf("expected 2 sells, got %d", seller.sells)
	}
	if buyer.buyAttempts != 2 {
		t.Errorf("expected 2 buy attempts, got %d", buyer.buyAttempts)
	}
	if len(buyer.buys) != 1 || buyer.buys[0] != "order-s-2" {
		t.Errorf("second attempt must target the recreated order: %v", buyer.buys)
	}
}

func TestTradeHop_SkipsSellerWithoutTarget(t *testing.T) {
	cfg := testConfig(nil)

	seller := &fakeClient{addr: "s"}
	buyer := &fakeClient{addr: "b", balances: []string{"1.0"}}

	fulfilled, err := tradeHop(context.Background(), testEnv(), cfg, makeRecord(seller, false, 1), makeRecord(buyer, false, 2))
	if err != nil {
		t.Fatalf("tradeHop returned error: %v", err)
	}
	if fulfilled {
		t.Fatalf("expected skip, got fulfilled")
	}
	if seller.sells != 0 || buyer.buyAttempts != 0 {
		t.Errorf("no remote calls expected: sells=%d buys=%d", seller.sells, buyer.buyAttempts)
	}
}

func TestTradeHop_ExhaustsSharedBudget(t *testing.T) {
	cfg := testConfig(nil)

	seller := &fakeClient{addr: "s", balances: []string{"1.0"}}
	buyer := &fakeClient{addr: "b", balances: []string{"1.0"}, buyErrs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}

	_, err := tradeHop(context.Background(), testEnv(), cfg, makeRecord(seller, true, 1), makeRecord(buyer, false, 2))
	if !retry.IsExhausted(err) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if buyer.buyAttempts != cfg.TradeRetry.MaxAttempts {
		t.Errorf("expected %d buy attempts, got %d", cfg.TradeRetry.MaxAttempts, buyer.buyAttempts)
	}
}

func TestTradeHop_WaitsForBuyerBalance(t *testing.T) {
	var sleeps []time.Duration
	cfg := testConfig(&sleeps)

	seller := &fakeClient{addr: "s", balances: []string{"1.0"}}
	// 首查不足，等待后补足
	buyer := &fakeClient{addr: "b", balances: []string{"0.1", "1.0"}}

	fulfilled, err := tradeHop(context.Background(), testEnv(), cfg, makeRecord(seller, true, 1), makeRecord(buyer, false, 2))
	if err != nil {
		t.Fatalf("tradeHop returned error: %v", err)
	}
	if !fulfilled {
		t.Fatalf("expected fulfilled=true")
	}
	if buyer.balanceCalls != 2 {
		t.Errorf("expected 2 balance polls, got %d", buyer.balanceCalls)
	}
	found := false
	for _, d := range sleeps {
		if d == cfg.BalanceWaitDelay {
			found = true
		}
	}
	if !found {
		t.Errorf("balance wait delay not applied: %v", sleeps)
	}
}

func TestTradeHop_BalanceFetchFailuresAreBounded(t *testing.T) {
	cfg := testConfig(nil)

	seller := &fakeClient{addr: "s", balances: []string{"1.0"}}
	buyer := &fakeClient{addr: "b", balanceErrs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}

	_, err := tradeHop(context.Background(), testEnv(), cfg, makeRecord(seller, true, 1), makeRecord(buyer, false, 2))
	if !retry.IsExhausted(err) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if buyer.balanceCalls != cfg.BalanceRetry.MaxAttempts {
		t.Errorf("expected %d balance calls, got %d", cfg.BalanceRetry.MaxAttempts, buyer.balanceCalls)
	}
	if buyer.buyAttempts != 0 {
		t.Errorf("no trade expected when balance is unknown, got %d attempts", buyer.buyAttempts)
	}
}

func TestTradeHop_PermanentExchangeErrorStopsRetrying(t *testing.T) {
	cfg := testConfig(nil)

	permanent := ccxt.InsufficientFunds("account has no funds")
	seller := &fakeClient{addr: "s", balances: []string{"1.0"}}
	buyer := &fakeClient{addr: "b", balances: []string{"1.0"}, buyErrs: []error{permanent}}

	_, err := tradeHop(context.Background(), testEnv(), cfg, makeRecord(seller, true, 1), makeRecord(buyer, false, 2))
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the exchange error back, got %v", err)
	}
	if buyer.buyAttempts != 1 {
		t.Errorf("permanent error must not be retried, got %d attempts", buyer.buyAttempts)
	}
}

func TestSellFulfillRelay_FulfillerAdvancesAndClosesLoop(t *testing.T) {
	cfg := testConfig(nil)

	r0 := &fakeClient{addr: "r0", balances: []string{"1.0"}}
	r1 := &fakeClient{addr: "r1", balances: []string{"1.0"}}
	r2 := &fakeClient{addr: "r2", balances: []string{"1.0"}}
	group := account.NewGroup("g", []account.Record{
		makeRecord(r0, true, 1),
		makeRecord(r1, true, 2),
		makeRecord(r2, false, 3), // 无资产，应被跳过
	})

	if err := SellFulfillRelay(context.Background(), testEnv(), cfg, group); err != nil {
		t.Fatalf("SellFulfillRelay returned error: %v", err)
	}

	// r1 挂单由 r0 吃；r2 跳过后吃单方仍是 r1；收尾 r0 挂单由 r1 吃
	if r1.sells != 1 || r2.sells != 0 || r0.sells != 1 {
		t.Errorf("unexpected sells: r0=%d r1=%d r2=%d", r0.sells, r1.sells, r2.sells)
	}
	if len(r0.buys) != 1 || r0.buys[0] != "order-r1-1" {
		t.Errorf("r0 should fulfill r1's order: %v", r0.buys)
	}
	if len(r1.buys) != 1 || r1.buys[0] != "order-r0-1" {
		t.Errorf("r1 should fulfill the closing order: %v", r1.buys)
	}
	if len(r2.buys) != 0 {
		t.Errorf("skipped account must not buy: %v", r2.buys)
	}
}

func TestParityRelay_EvenBuysOddReceives(t *testing.T) {
	cfg := testConfig(nil)

	r1 := &fakeClient{addr: "r1", balances: []string{"1.0"}}
	r2 := &fakeClient{addr: "r2", balances: []string{"1.0"}}
	r3 := &fakeClient{addr: "r3", balances: []string{"1.0"}}

	rec2 := makeRecord(r2, true, 2).WithOrder("ord-2")
	group := account.NewGroup("g", []account.Record{
		makeRecord(r1, true, 1),
		rec2,
		makeRecord(r3, true, 3),
	})

	if err := ParityRelay(context.Background(), testEnv(), cfg, group); err != nil {
		t.Fatalf("ParityRelay returned error: %v", err)
	}

	// 偶数位 r2 的预建订单由当前吃单方 r1 成交
	if len(r1.buys) != 1 || r1.buys[0] != "ord-2" {
		t.Errorf("r1 should fulfill ord-2: %v", r1.buys)
	}
	// r2 成为资金池：给奇数位 r3 付款，终局再转回 r1
	if r2.transferCount() != 2 {
		t.Fatalf("expected 2 transfers from pool, got %d", r2.transferCount())
	}
	if r2.transfers[0].Receiver != "r3" || r2.transfers[1].Receiver != "r1" {
		t.Errorf("unexpected pool transfers: %+v", r2.transfers)
	}
}

func TestParityRelay_SkipsEmptyOrderRef(t *testing.T) {
	cfg := testConfig(nil)

	r1 := &fakeClient{addr: "r1", balances: []string{"1.0"}}
	r2 := &fakeClient{addr: "r2", balances: []string{"1.0"}}
	group := account.NewGroup("g", []account.Record{
		makeRecord(r1, true, 1),
		makeRecord(r2, true, 2), // 无预建订单号
	})

	if err := ParityRelay(context.Background(), testEnv(), cfg, group); err != nil {
		t.Fatalf("ParityRelay returned error: %v", err)
	}
	if r1.buyAttempts != 0 {
		t.Errorf("no trade expected, got %d attempts", r1.buyAttempts)
	}
	// 资金池未移动，终局无需回转
	if r1.transferCount() != 0 || r2.transferCount() != 0 {
		t.Errorf("no transfers expected")
	}
}

func TestParityRelay_BuyExhaustionContinuesRelay(t *testing.T) {
	cfg := testConfig(nil)

	r1 := &fakeClient{addr: "r1", balances: []string{"1.0"}, buyErrs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}
	r2 := &fakeClient{addr: "r2", balances: []string{"1.0"}}
	r3 := &fakeClient{addr: "r3", balances: []string{"1.0"}}
	group := account.NewGroup("g", []account.Record{
		makeRecord(r1, true, 1),
		makeRecord(r2, true, 2).WithOrder("ord-2"),
		makeRecord(r3, true, 3),
	})

	if err := ParityRelay(context.Background(), testEnv(), cfg, group); err != nil {
		t.Fatalf("buy exhaustion must not abort the group, got %v", err)
	}

	if r1.buyAttempts != cfg.TradeRetry.MaxAttempts {
		t.Errorf("expected %d buy attempts, got %d", cfg.TradeRetry.MaxAttempts, r1.buyAttempts)
	}
	// 吃单失败后 r2 仍接任资金池：给 r3 付款，终局转回 r1
	if r2.transferCount() != 2 {
		t.Fatalf("pool must keep rotating, got %d transfers", r2.transferCount())
	}
	if r2.transfers[0].Receiver != "r3" || r2.transfers[1].Receiver != "r1" {
		t.Errorf("unexpected pool transfers: %+v", r2.transfers)
	}
}

func TestParityRelay_TransferFailureAbortsGroup(t *testing.T) {
	cfg := testConfig(nil)

	r1 := &fakeClient{addr: "r1", balances: []string{"1.0"}}
	r2 := &fakeClient{addr: "r2", balances: []string{"1.0"}, transferErrs: []error{
		errors.New("boom"), errors.New("boom"),
	}}
	r3 := &fakeClient{addr: "r3", balances: []string{"1.0"}}
	group := account.NewGroup("g", []account.Record{
		makeRecord(r1, true, 1),
		makeRecord(r2, true, 2).WithOrder("ord-2"),
		makeRecord(r3, true, 3),
	})

	err := ParityRelay(context.Background(), testEnv(), cfg, group)
	if !retry.IsExhausted(err) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if r2.transferCount() != 0 {
		t.Errorf("no transfer should land after abort: %+v", r2.transfers)
	}
}

func TestRewardTradeHandoff_AssetRotatesAndReturns(t *testing.T) {
	cfg := testConfig(nil)
	cfg.RewardContract = "0xreward"
	cfg.RewardItem = "7"

	root := &fakeClient{addr: "root", balances: []string{"5.0"}}
	a1 := &fakeClient{addr: "a1", balances: []string{"1.0"}}
	a2 := &fakeClient{addr: "a2", balances: []string{"1.0"}}
	group := account.NewGroup("g", []account.Record{
		makeRecord(a1, false, 1),
		makeRecord(a2, false, 2),
	})

	if err := RewardTradeHandoff(context.Background(), testEnv(), cfg, group, root); err != nil {
		t.Fatalf("RewardTradeHandoff returned error: %v", err)
	}

	// root 为每个买家备款
	if root.transferCount() != 2 {
		t.Fatalf("expected 2 funding transfers from root, got %d", root.transferCount())
	}
	// 资产链路：root 挂单 a1 吃，a1 挂单 a2 吃
	if root.sells != 1 || a1.sells != 1 {
		t.Errorf("unexpected sells: root=%d a1=%d", root.sells, a1.sells)
	}
	if len(a1.buys) != 1 || len(a2.buys) != 1 {
		t.Errorf("each account must buy once: a1=%v a2=%v", a1.buys, a2.buys)
	}

	// a1 卸任卖家后把余款扫回 root
	foundSweep := false
	for _, tr := range a1.transfers {
		if tr.Receiver == "root" && tr.ItemRef == "" {
			foundSweep = true
		}
	}
	if !foundSweep {
		t.Errorf("a1 should sweep back to root: %+v", a1.transfers)
	}

	// 终局 a2 归还奖励资产
	foundReturn := false
	for _, tr := range a2.transfers {
		if tr.Receiver == "root" && tr.ItemRef == "7" && tr.Token == "0xreward" {
			foundReturn = true
		}
	}
	if !foundReturn {
		t.Errorf("a2 should return the reward asset: %+v", a2.transfers)
	}
}
