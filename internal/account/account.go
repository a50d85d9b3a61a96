// Package account 定义批量自动化的基本单元：账户记录与账户分组。
package account

import (
	"fmt"

	"imx-batch/internal/remote"
)

// SellTarget 标识账户可挂单出售的资产。
type SellTarget struct {
	ContractRef string
	ItemRef     string
}

// Record 为一个密钥对账户及其每账户参数。会话期间除 OrderRef 外不可变；
// OrderRef 只允许从空到非空写入一次（预建单阶段写、撮合阶段读）。
type Record struct {
	Handle        string
	DisplayName   string
	SellTarget    *SellTarget
	AltSellTarget *SellTarget
	OrderRef      string
	PeerTarget    string
	SequenceIndex int
	Client        remote.Client

	keys remote.KeyMaterial
}

// NewRecord 绑定客户端并派生句柄。
func NewRecord(keys remote.KeyMaterial, factory remote.Factory) (Record, error) {
	client, err := factory(keys)
	if err != nil {
		return Record{}, fmt.Errorf("account: 构造远端客户端失败: %w", err)
	}
	return Record{
		Handle: client.Address(),
		Client: client,
		keys:   keys,
	}, nil
}

// WithOrder 返回携带订单引用的副本。首次写入生效，已有引用时保持不变。
func (r Record) WithOrder(orderRef string) Record {
	if r.OrderRef != "" {
		return r
	}
	r.OrderRef = orderRef
	return r
}

// HasSellTarget 判断该账户是否具备挂单所需的资产标识。
func (r Record) HasSellTarget() bool {
	return r.SellTarget != nil && r.SellTarget.ContractRef != "" && r.SellTarget.ItemRef != ""
}

// Group 为一批一起加载的账户，顺序即加载顺序；下标 0 习惯上是接力
// 流程的首发账户。分组创建后只读。
type Group struct {
	Label   string
	Records []Record
}

// NewGroup 创建分组。
func NewGroup(label string, records []Record) *Group {
	return &Group{Label: label, Records: records}
}

// Len 返回分组内账户数。
func (g *Group) Len() int {
	return len(g.Records)
}

// Rebind 以新工厂重建每个账户的客户端，返回全新分组，原分组不被修改。
// 切换网络时对所有分组调用。
func (g *Group) Rebind(factory remote.Factory) (*Group, error) {
	records := make([]Record, 0, len(g.Records))
	for _, rec := range g.Records {
		client, err := factory(rec.keys)
		if err != nil {
			return nil, fmt.Errorf("account: 重绑定账户 %q 失败: %w", rec.DisplayName, err)
		}
		next := rec
		next.Client = client
		next.Handle = client.Address()
		records = append(records, next)
	}
	return NewGroup(g.Label, records), nil
}
