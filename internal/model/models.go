package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick 代表上游行情源的一次报价快照 (只在内存中流转，不落盘)
type Tick struct {
	Price    decimal.Decimal // 报价 (bid)
	Sequence int64           // 上游单调序号，用于去重 (MT5 time_msc)
	Time     time.Time       // 上游报价时间
}

// IsZero 报告该 Tick 是否为空值
func (t Tick) IsZero() bool {
	return t.Sequence == 0 && t.Price.IsZero()
}

// Bar 代表上游返回的历史 K 线，原样透传给 /api/ohlc
type Bar struct {
	Time  int64   `json:"time"` // 秒级 Unix 时间戳
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}
