package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"imx-batch/internal/account"
	"imx-batch/internal/remote"
	"imx-batch/internal/retry"
	"imx-batch/internal/session"
)

type fakeClient struct {
	mu   sync.Mutex
	addr string

	// balances 逐次弹出，最后一个值保持生效。
	balances     []string
	balanceErrs  []error
	balanceCalls int

	transfers    []remote.TransferRequest
	transferErrs []error

	sells    int
	sellErrs []error

	buys        []string
	buyAttempts int
	buyErrs     []error

	orders  []remote.Order
	cancels []string

	harvests    int
	harvestErrs []error

	claimable   float64
	claimAmount string
	claims      int
}

func errBoom() error { return fmt.Errorf("boom") }

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (c *fakeClient) Address() string { return c.addr }

func (c *fakeClient) GetBalance(ctx context.Context, owner string) (remote.BalanceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceCalls++
	if err := popErr(&c.balanceErrs); err != nil {
		return remote.BalanceResult{}, err
	}
	value := "0"
	if len(c.balances) > 0 {
		value = c.balances[0]
		if len(c.balances) > 1 {
			c.balances = c.balances[1:]
		}
	}
	return remote.BalanceResult{Balance: value}, nil
}

func (c *fakeClient) Sell(ctx context.Context, req remote.SellRequest, gas *remote.GasOverrides, variant string) (remote.CreatedOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := popErr(&c.sellErrs); err != nil {
		return remote.CreatedOrder{}, err
	}
	c.sells++
	return remote.CreatedOrder{OrderID: fmt.Sprintf("order-%s-%d", c.addr, c.sells)}, nil
}

func (c *fakeClient) Buy(ctx context.Context, req remote.BuyRequest, gas *remote.GasOverrides) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buyAttempts++
	if err := popErr(&c.buyErrs); err != nil {
		return err
	}
	c.buys = append(c.buys, req.OrderID)
	return nil
}

func (c *fakeClient) Transfer(ctx context.Context, req remote.TransferRequest, gas *remote.GasOverrides) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := popErr(&c.transferErrs); err != nil {
		return err
	}
	c.transfers = append(c.transfers, req)
	return nil
}

func (c *fakeClient) GetOrders(ctx context.Context, owner string) (remote.OrdersResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return remote.OrdersResult{Result: c.orders}, nil
}

func (c *fakeClient) CancelOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, orderID)
	return nil
}

func (c *fakeClient) HarvestGem(ctx context.Context, gas *remote.GasOverrides) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := popErr(&c.harvestErrs); err != nil {
		return err
	}
	c.harvests++
	return nil
}

func (c *fakeClient) RewardStatus(ctx context.Context) (remote.RewardStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return remote.RewardStatus{Claimable: c.claimable}, nil
}

func (c *fakeClient) ClaimRewards(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims++
	return c.claimAmount, nil
}

func (c *fakeClient) transferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transfers)
}

// testConfig 返回毫秒级延迟的参数；sleeps 非空时记录每次等待时长。
func testConfig(sleeps *[]time.Duration) Config {
	cfg := Config{
		SellAmount:       0.5,
		TransferAmount:   0.2,
		Threshold:        0.1,
		FeeReserve:       0.02,
		GasReserve:       0.00046,
		SweepMin:         0.01,
		SettleDelay:      3 * time.Millisecond,
		ConfirmRetries:   3,
		ConfirmDelay:     3 * time.Millisecond,
		HopDelay:         time.Millisecond,
		BalanceWaitDelay: 4 * time.Millisecond,
		CooldownDelay:    180 * time.Millisecond,
		BalanceRetry:     RetryPlan{MaxAttempts: 3, Delay: time.Millisecond},
		TransferRetry:    RetryPlan{MaxAttempts: 2, Delay: time.Millisecond},
		TradeRetry:       RetryPlan{MaxAttempts: 3, Delay: time.Millisecond},
		ActionRetry:      RetryPlan{MaxAttempts: 2, Delay: time.Millisecond},
		RewardRetry:      RetryPlan{MaxAttempts: 2, Delay: time.Millisecond},
	}
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	}
	return cfg
}

func testEnv() Env {
	return Env{Log: session.NewLog(nil), Logger: zap.NewNop(), Group: "test"}
}

func makeRecord(c *fakeClient, withTarget bool, seq int) account.Record {
	rec := account.Record{Handle: c.addr, Client: c, SequenceIndex: seq}
	if withTarget {
		rec.SellTarget = &account.SellTarget{ContractRef: "0xabc", ItemRef: fmt.Sprintf("%d", seq)}
	}
	return rec
}

func TestEnsureFunded_FastPathSendsNothing(t *testing.T) {
	holder := &fakeClient{addr: "a1", balances: []string{"1.0"}}
	root := &fakeClient{addr: "root", balances: []string{"5.0"}}

	ok, err := EnsureFunded(context.Background(), testEnv(), testConfig(nil), holder, root)
	if err != nil {
		t.Fatalf("EnsureFunded returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected funded=true")
	}
	if holder.balanceCalls != 1 {
		t.Errorf("expected single balance check, got %d", holder.balanceCalls)
	}
	if root.balanceCalls != 0 || root.transferCount() != 0 {
		t.Errorf("root must stay untouched: calls=%d transfers=%d", root.balanceCalls, root.transferCount())
	}
}

func TestEnsureFunded_TransfersThresholdAndConfirms(t *testing.T) {
	var sleeps []time.Duration
	cfg := testConfig(&sleeps)

	holder := &fakeClient{addr: "a1", balances: []string{"0.01", "0.5"}}
	root := &fakeClient{addr: "root", balances: []string{"5.0"}}

	ok, err := EnsureFunded(context.Background(), testEnv(), cfg, holder, root)
	if err != nil {
		t.Fatalf("EnsureFunded returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected funded=true after confirmation")
	}

	if root.transferCount() != 1 {
		t.Fatalf("expected 1 funding transfer, got %d", root.transferCount())
	}
	tr := root.transfers[0]
	if tr.Receiver != "a1" || tr.Amount != cfg.Threshold {
		t.Errorf("unexpected funding transfer: %+v", tr)
	}

	foundSettle := false
	for _, d := range sleeps {
		if d == cfg.SettleDelay {
			foundSettle = true
		}
	}
	if !foundSettle {
		t.Errorf("settle delay not applied, sleeps=%v", sleeps)
	}
}

func TestEnsureFunded_RootShortSkipsSilently(t *testing.T) {
	holder := &fakeClient{addr: "a1", balances: []string{"0.01"}}
	root := &fakeClient{addr: "root", balances: []string{"0.05"}}

	ok, err := EnsureFunded(context.Background(), testEnv(), testConfig(nil), holder, root)
	if err != nil {
		t.Fatalf("insufficient root funds must not be an error, got %v", err)
	}
	if ok {
		t.Fatalf("expected funded=false")
	}
	if root.transferCount() != 0 {
		t.Fatalf("no transfer expected, got %d", root.transferCount())
	}
}

func TestEnsureFunded_TransferExhaustionPropagates(t *testing.T) {
	cfg := testConfig(nil)
	holder := &fakeClient{addr: "a1", balances: []string{"0.01"}}
	root := &fakeClient{addr: "root", balances: []string{"5.0"}, transferErrs: []error{
		errBoom(), errBoom(),
	}}

	ok, err := EnsureFunded(context.Background(), testEnv(), cfg, holder, root)
	if ok {
		t.Fatalf("expected funded=false")
	}
	if !retry.IsExhausted(err) {
		t.Fatalf("funding transfer exhaustion must surface as error, got %v", err)
	}
}

func TestEnsureFunded_NeverConfirmedSkips(t *testing.T) {
	cfg := testConfig(nil)
	holder := &fakeClient{addr: "a1", balances: []string{"0.01"}}
	root := &fakeClient{addr: "root", balances: []string{"5.0"}}

	ok, err := EnsureFunded(context.Background(), testEnv(), cfg, holder, root)
	if err != nil {
		t.Fatalf("EnsureFunded returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected funded=false when balance never updates")
	}
	// 初查 1 次 + 确认轮询 3 次
	if holder.balanceCalls != 1+cfg.ConfirmRetries {
		t.Errorf("unexpected balance checks: %d", holder.balanceCalls)
	}
}

func TestSweepBack_SpendableArithmetic(t *testing.T) {
	cfg := testConfig(nil)
	from := &fakeClient{addr: "a1", balances: []string{"1.0"}}

	if err := SweepBack(context.Background(), testEnv(), cfg, from, "root"); err != nil {
		t.Fatalf("SweepBack returned error: %v", err)
	}
	if from.transferCount() != 1 {
		t.Fatalf("expected sweep transfer, got %d", from.transferCount())
	}

	// 1.0 - 0.02 - 0.00046 截到 4 位小数
	got := from.transfers[0].Amount
	if diff := got - 0.9795; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("unexpected sweep amount: %v", got)
	}
	if from.transfers[0].Receiver != "root" {
		t.Errorf("sweep must target root, got %s", from.transfers[0].Receiver)
	}
}

func TestSweepBack_BelowMinimumDoesNothing(t *testing.T) {
	cfg := testConfig(nil)
	// 0.0304 - 0.02046 = 0.00994，低于 0.01 下限
	from := &fakeClient{addr: "a1", balances: []string{"0.0304"}}

	if err := SweepBack(context.Background(), testEnv(), cfg, from, "root"); err != nil {
		t.Fatalf("SweepBack returned error: %v", err)
	}
	if from.transferCount() != 0 {
		t.Fatalf("expected no transfer, got %d", from.transferCount())
	}
}

func TestTransferWithRetry_ExhaustsBudget(t *testing.T) {
	cfg := testConfig(nil)
	from := &fakeClient{addr: "a1", transferErrs: []error{
		fmt.Errorf("boom"), fmt.Errorf("boom"), fmt.Errorf("boom"),
	}}

	err := TransferWithRetry(context.Background(), testEnv(), cfg, from, "a2", 0.2, nil)
	if err == nil {
		t.Fatalf("expected error after budget exhausted")
	}
	if from.transferCount() != 0 {
		t.Fatalf("no transfer should succeed, got %d", from.transferCount())
	}
}
