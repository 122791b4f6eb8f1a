//go:generate mockgen -source=interface.go -destination=mock/interface_mock.go -package=mock
package engine

import (
	"context"
	"time"

	"footprint-flow/internal/model"
)

// TickSource 提供上游最新报价
type TickSource interface {
	LatestTick(ctx context.Context) (model.Tick, error)
}

// Writer 将一次价格跳动的归属写入当日分区
type Writer interface {
	Upsert(date time.Time, candleKey string, contributions []model.Contribution) (model.Commit, error)
}

// Publisher 向实时订阅者广播已提交的增量
type Publisher interface {
	Publish(update model.PowerUpdate)
}
