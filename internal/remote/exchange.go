package remote

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// exchangeAPI 收敛本实现用到的 ccxt 方法。
type exchangeAPI interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	Withdraw(code string, amount float64, address string, options ...ccxt.WithdrawOptions) (ccxt.Transaction, error)
}

// ExchangeConfig 描述交易所类网络的连接参数。
type ExchangeConfig struct {
	Name       string
	Market     string
	UseSandbox bool
}

// ExchangeClient 基于 ccxt 将交易所账户适配为 Client。
// Buy 无法在中心化交易所吃特定订单，按记录的价格对盘口下限价单近似。
type ExchangeClient struct {
	cfg      ExchangeConfig
	exchange exchangeAPI
	address  string
	currency string
	logger   *zap.Logger
}

// NewExchangeClient 依据网络名构造交易所客户端。
func NewExchangeClient(cfg ExchangeConfig, keys KeyMaterial, logger *zap.Logger) (*ExchangeClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if keys.Key != "" {
		userConfig["apiKey"] = keys.Key
	}
	if keys.SecondaryKey != "" {
		userConfig["secret"] = keys.SecondaryKey
	}

	var api exchangeAPI
	switch strings.ToLower(cfg.Name) {
	case "hyperliquid":
		userConfig["walletAddress"] = keys.Key
		userConfig["privateKey"] = keys.SecondaryKey
		ex := ccxt.NewHyperliquid(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		api = ex
	case "binanceusdm":
		ex := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		api = ex
	default:
		return nil, fmt.Errorf("remote: 不支持的交易所网络 %q", cfg.Name)
	}

	currency := cfg.Market
	if idx := strings.Index(currency, "/"); idx > 0 {
		currency = currency[:idx]
	}

	return &ExchangeClient{
		cfg:      cfg,
		exchange: api,
		address:  deriveHandle(keys.Key),
		currency: currency,
		logger:   logger,
	}, nil
}

// Address 返回账户句柄。
func (c *ExchangeClient) Address() string {
	return c.address
}

// GetBalance 查询基础币种可用余额。
func (c *ExchangeClient) GetBalance(ctx context.Context, owner string) (BalanceResult, error) {
	if err := ctx.Err(); err != nil {
		return BalanceResult{}, err
	}
	if owner != "" && owner != c.address {
		return BalanceResult{}, fmt.Errorf("remote: 交易所账户无法查询他人余额 %q", owner)
	}

	balances, err := c.exchange.FetchBalance()
	if err != nil {
		return BalanceResult{}, fmt.Errorf("remote: 获取余额失败: %w", err)
	}

	var amount float64
	if balances.Free != nil {
		if free, ok := balances.Free[c.currency]; ok && free != nil {
			amount = *free
		}
	}
	if amount == 0 && balances.Total != nil {
		if total, ok := balances.Total[c.currency]; ok && total != nil {
			amount = *total
		}
	}

	return BalanceResult{Balance: strconv.FormatFloat(amount, 'f', -1, 64)}, nil
}

// Sell 挂限价卖单。
func (c *ExchangeClient) Sell(ctx context.Context, req SellRequest, gas *GasOverrides, variant string) (CreatedOrder, error) {
	if err := ctx.Err(); err != nil {
		return CreatedOrder{}, err
	}
	if req.Price <= 0 {
		return CreatedOrder{}, fmt.Errorf("remote: 交易所挂单需要限价，收到 %v", req.Price)
	}

	order, err := c.exchange.CreateLimitOrder(c.cfg.Market, "sell", req.PayAmount, req.Price)
	if err != nil {
		return CreatedOrder{}, fmt.Errorf("remote: 挂单失败: %w", err)
	}

	id := derefString(order.Id)
	if id == "" {
		return CreatedOrder{}, fmt.Errorf("remote: 交易所未返回订单号")
	}

	c.logger.Debug("挂单成功", zap.String("order_id", id), zap.String("market", c.cfg.Market))
	return CreatedOrder{OrderID: id}, nil
}

// Buy 以记录价格对盘口下限价买单。
func (c *ExchangeClient) Buy(ctx context.Context, req BuyRequest, gas *GasOverrides) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.Price <= 0 || req.Amount <= 0 {
		return fmt.Errorf("remote: 买单参数无效 amount=%v price=%v", req.Amount, req.Price)
	}

	if _, err := c.exchange.CreateLimitOrder(c.cfg.Market, "buy", req.Amount, req.Price); err != nil {
		return fmt.Errorf("remote: 买单失败: %w", err)
	}
	return nil
}

// Transfer 通过提币接口转账。
func (c *ExchangeClient) Transfer(ctx context.Context, req TransferRequest, gas *GasOverrides) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.ItemRef != "" {
		return ErrUnsupported
	}

	currency := req.Token
	if currency == "" {
		currency = c.currency
	}

	if _, err := c.exchange.Withdraw(currency, req.Amount, req.Receiver); err != nil {
		return fmt.Errorf("remote: 转账失败: %w", err)
	}
	return nil
}

// GetOrders 列出账户当前挂单。
func (c *ExchangeClient) GetOrders(ctx context.Context, owner string) (OrdersResult, error) {
	if err := ctx.Err(); err != nil {
		return OrdersResult{}, err
	}

	raw, err := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(c.cfg.Market))
	if err != nil {
		return OrdersResult{}, fmt.Errorf("remote: 获取订单失败: %w", err)
	}

	orders := make([]Order, 0, len(raw))
	for _, item := range raw {
		id := derefString(item.Id)
		if id == "" {
			continue
		}
		orders = append(orders, Order{ID: id, Status: derefString(item.Status)})
	}

	return OrdersResult{Result: orders}, nil
}

// CancelOrder 撤销订单。
func (c *ExchangeClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.exchange.CancelOrder(orderID, ccxt.WithCancelOrderSymbol(c.cfg.Market)); err != nil {
		return fmt.Errorf("remote: 撤单失败: %w", err)
	}
	return nil
}

// HarvestGem 交易所网络不提供奖励单元。
func (c *ExchangeClient) HarvestGem(ctx context.Context, gas *GasOverrides) error {
	return ErrUnsupported
}

// RewardStatus 交易所网络不提供奖励计划。
func (c *ExchangeClient) RewardStatus(ctx context.Context) (RewardStatus, error) {
	return RewardStatus{}, ErrUnsupported
}

// ClaimRewards 交易所网络不提供奖励计划。
func (c *ExchangeClient) ClaimRewards(ctx context.Context) (string, error) {
	return "", ErrUnsupported
}

// NewExchangeFactory 返回按账户构造交易所客户端的工厂。
func NewExchangeFactory(cfg ExchangeConfig, logger *zap.Logger) Factory {
	return func(keys KeyMaterial) (Client, error) {
		return NewExchangeClient(cfg, keys, logger)
	}
}

func deriveHandle(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("acct:%x", sum[:8])
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
