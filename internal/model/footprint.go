package model

import (
	"github.com/shopspring/decimal"
)

// 价格位移缩放系数: 1 个单位 = 0.01 价格
const VolumeScale = 100

// Side 定义了成交量归属方向
type Side string

const (
	SideBuy  Side = "buy"  // 价格上行
	SideSell Side = "sell" // 价格下行
)

func (s Side) String() string {
	return string(s)
}

// Contribution 是一次价格跳动归属到某个价格 Bin 的成交量
type Contribution struct {
	Bin    int64
	Side   Side
	Amount int64
}

// Update 转换为推送给前端的 {bin, buy, sell} 结构
func (c Contribution) Update() BinUpdate {
	u := BinUpdate{Bin: c.Bin}
	if c.Side == SideBuy {
		u.Buy = c.Amount
	} else {
		u.Sell = c.Amount
	}
	return u
}

// BinAggregate 是某根 K 线内某个价格 Bin 的累计买卖量，只会单调递增
type BinAggregate struct {
	Buy  int64 `json:"buy"`
	Sell int64 `json:"sell"`
}

// Add 将一次归属合并到聚合值上 (交换律、结合律成立)
func (a BinAggregate) Add(c Contribution) BinAggregate {
	if c.Side == SideBuy {
		a.Buy += c.Amount
	} else {
		a.Sell += c.Amount
	}
	return a
}

// Total 返回买卖总量
func (a BinAggregate) Total() int64 {
	return a.Buy + a.Sell
}

// CandleFootprint 是一根一分钟 K 线的足迹: Bin -> 买卖量
type CandleFootprint struct {
	CandleKey string                 `json:"candleKey"`
	Bins      map[int64]BinAggregate `json:"bins"`
}

// Commit 标识一次已提交的写入: 所在分区 + 分区内写序号
type Commit struct {
	Partition string
	Sequence  uint64
}

// Covers 报告快照 c 是否已经包含了写入 other
func (c Commit) Covers(other Commit) bool {
	return c.Partition == other.Partition && other.Sequence <= c.Sequence
}

// PowerUpdate 是摄取循环在写入成功后发布的增量事件
type PowerUpdate struct {
	CandleKey     string
	Price         decimal.Decimal
	Velocity      decimal.Decimal
	Contributions []Contribution
	Commit        Commit
}

// Message 转换为 POWER_UPDATE 推送消息
func (u PowerUpdate) Message() PowerUpdateMessage {
	updates := make([]BinUpdate, 0, len(u.Contributions))
	for _, c := range u.Contributions {
		updates = append(updates, c.Update())
	}
	return PowerUpdateMessage{
		Type:      MessagePowerUpdate,
		CandleKey: u.CandleKey,
		Price:     u.Price.InexactFloat64(),
		Velocity:  u.Velocity.InexactFloat64(),
		Updates:   updates,
	}
}

// ZoneLevel 是价格区间扫描结果中单个 Bin 的累计值
type ZoneLevel struct {
	Buy   int64 `json:"buy"`
	Sell  int64 `json:"sell"`
	Total int64 `json:"total"`
}

// ZoneProfile 是价格区间 [Bottom, Top] 的成交量分布 (派生结果，不落盘)
type ZoneProfile struct {
	MaxVolume int64               `json:"maxVolume"`
	Profile   map[int64]ZoneLevel `json:"profile"`
	Top       float64             `json:"top"`
	Bottom    float64             `json:"bottom"`
}
