package model

// 推送通道消息类型
const (
	MessageInitData    = "INIT_DATA"
	MessagePowerUpdate = "POWER_UPDATE"
)

// BinUpdate 是 POWER_UPDATE 中单个 Bin 的增量
type BinUpdate struct {
	Bin  int64 `json:"bin"`
	Buy  int64 `json:"buy"`
	Sell int64 `json:"sell"`
}

// PowerUpdateMessage 每次归属后推送一次
type PowerUpdateMessage struct {
	Type      string      `json:"type"`
	CandleKey string      `json:"candleKey"`
	Price     float64     `json:"price"`
	Velocity  float64     `json:"velocity"`
	Updates   []BinUpdate `json:"updates"`
}

// InitDataMessage 在订阅者连接时发送一次
type InitDataMessage struct {
	Type         string            `json:"type"`
	History      []CandleFootprint `json:"history"`
	CurrentPrice float64           `json:"currentPrice"`
}
