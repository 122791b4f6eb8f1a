package engine

import (
	"context"
	"sync/atomic"
	"time"

	"footprint-flow/internal/footprint"
	"footprint-flow/internal/model"
	"footprint-flow/internal/service"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State 摄取循环的状态
type State string

const (
	StateIdle     State = "IDLE"     // 尚未收到任何报价
	StateTracking State = "TRACKING" // 已有上一笔价格，可计算位移
)

// LiveState 只由 Run 所在的 goroutine 读写
type LiveState struct {
	LastPrice    decimal.Decimal
	LastSequence int64
}

// State 根据上一笔价格推导当前状态
func (s LiveState) State() State {
	if s.LastPrice.IsZero() {
		return StateIdle
	}
	return StateTracking
}

// DataEngine 轮询报价源，把价格跳动归属到 Bin，写入存储后广播
type DataEngine struct {
	source    TickSource
	writer    Writer
	publisher Publisher
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time

	live LiveState

	// 供 /healthz 读取的副本
	lastSequence atomic.Int64
	processed    atomic.Int64
}

// NewDataEngine 创建摄取循环，pollInterval 为两次轮询的最小间隔
func NewDataEngine(source TickSource, writer Writer, publisher Publisher, pollInterval time.Duration, logger *zap.Logger) *DataEngine {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &DataEngine{
		source:    source,
		writer:    writer,
		publisher: publisher,
		limiter:   rate.NewLimiter(rate.Every(pollInterval), 1),
		logger:    logger,
		now:       time.Now,
	}
}

// Run 是摄取主循环，只在等待下一次轮询时响应取消，返回 nil
func (de *DataEngine) Run(ctx context.Context) error {
	de.logger.Info("Data Engine started, polling tick source...")

	for {
		if err := de.limiter.Wait(ctx); err != nil {
			de.logger.Info("Data Engine stopped",
				zap.Int64("last_sequence", de.live.LastSequence),
				zap.Int64("processed", de.processed.Load()))
			return nil
		}
		de.poll(ctx)
	}
}

func (de *DataEngine) poll(ctx context.Context) {
	tick, err := de.source.LatestTick(ctx)
	if err != nil {
		de.logger.Debug("tick source unavailable, skipping cycle", zap.Error(err))
		return
	}
	if tick.Sequence == de.live.LastSequence {
		return
	}
	de.ProcessTick(tick)
}

// ProcessTick 处理一笔新报价并推进 LiveState
func (de *DataEngine) ProcessTick(tick model.Tick) {
	now := de.now()
	candleKey := service.CandleKey(now)

	if de.live.State() == StateTracking && !tick.Price.Equal(de.live.LastPrice) {
		de.record(now, candleKey, de.live.LastPrice, tick.Price)
	}

	// 无论写入是否成功都推进状态
	de.live = LiveState{LastPrice: tick.Price, LastSequence: tick.Sequence}
	de.lastSequence.Store(tick.Sequence)
	de.processed.Add(1)
}

func (de *DataEngine) record(now time.Time, candleKey string, prev, curr decimal.Decimal) {
	contributions, err := footprint.Attribute(prev, curr)
	if err != nil {
		de.logger.Error("attribution precondition violated", zap.Error(err))
		return
	}
	if len(contributions) == 0 {
		return
	}

	commit, err := de.writer.Upsert(now, candleKey, contributions)
	if err != nil {
		de.logger.Error("failed to persist footprint",
			zap.String("candle_key", candleKey),
			zap.Error(errors.WithMessage(err, "upsert")))
		return
	}

	de.publisher.Publish(model.PowerUpdate{
		CandleKey:     candleKey,
		Price:         curr,
		Velocity:      curr.Sub(prev),
		Contributions: contributions,
		Commit:        commit,
	})
}

// Live 返回当前状态的副本，只应在 Run 之外且 Run 未运行时调用
func (de *DataEngine) Live() LiveState {
	return de.live
}

// LastSequence 返回最近处理的上游序号，可并发调用
func (de *DataEngine) LastSequence() int64 {
	return de.lastSequence.Load()
}
