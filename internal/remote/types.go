// Package remote 定义批量编排核心所消费的远端账户客户端能力。
// 核心只依赖本接口，不关心具体网络实现。
package remote

import "context"

// GasOverrides 为透传的 gas 覆盖参数，核心不做解释。
type GasOverrides struct {
	MaxFeePerGas         float64
	MaxPriorityFeePerGas float64
	GasLimit             int64
}

// BalanceResult 为余额查询结果，余额以十进制字符串表示。
type BalanceResult struct {
	Balance string `json:"balance"`
}

// SellRequest 描述一次挂单：支付侧金额/币种 + 资产侧合约/编号。
type SellRequest struct {
	PayAmount   float64
	PayToken    string
	ContractRef string
	ItemRef     string
	// Price 供交易所类网络做限价单使用；链上实现忽略。
	Price float64
}

// CreatedOrder 为挂单结果。
type CreatedOrder struct {
	OrderID string `json:"order_id"`
}

// BuyRequest 描述一次吃单。
type BuyRequest struct {
	OrderID string
	Amount  float64
	Price   float64
}

// TransferRequest 描述一次转账。Token 为空表示原生币；
// ItemRef 非空时表示不可分割资产，Amount 被忽略。
type TransferRequest struct {
	Receiver string
	Amount   float64
	Token    string
	ItemRef  string
}

// Order 为远端已存在的订单。
type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// OrdersResult 为订单列表查询结果。
type OrdersResult struct {
	Result []Order `json:"result"`
}

// RewardStatus 为奖励计划当前可领取状态。
type RewardStatus struct {
	Claimable   float64 `json:"claimable_amount"`
	TotalEarned float64 `json:"total_earned_amount"`
}

// Client 为按账户注入的远端能力。所有调用均可失败，
// 核心唯一检查的错误内容是 errors.go 中的两个消息签名。
type Client interface {
	// Address 返回由密钥派生的账户句柄，核心不解释其内容。
	Address() string
	// GetBalance 查询余额；owner 为空时查询自身。
	GetBalance(ctx context.Context, owner string) (BalanceResult, error)
	Sell(ctx context.Context, req SellRequest, gas *GasOverrides, variant string) (CreatedOrder, error)
	Buy(ctx context.Context, req BuyRequest, gas *GasOverrides) error
	Transfer(ctx context.Context, req TransferRequest, gas *GasOverrides) error
	GetOrders(ctx context.Context, owner string) (OrdersResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	// HarvestGem 领取一次 gem 奖励单元。
	HarvestGem(ctx context.Context, gas *GasOverrides) error
	RewardStatus(ctx context.Context) (RewardStatus, error)
	// ClaimRewards 领取全部可领奖励，返回领取数量（十进制字符串）。
	ClaimRewards(ctx context.Context) (string, error)
}

// KeyMaterial 为账户密钥对，核心只负责透传给工厂。
type KeyMaterial struct {
	Key          string
	SecondaryKey string
}

// Factory 依据密钥构造绑定某网络的客户端；切换网络时整组重建。
type Factory func(keys KeyMaterial) (Client, error)
