package api

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"footprint-flow/internal/model"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TimeframeM1 是唯一支持的历史 K 线周期
const TimeframeM1 = "M1"

type SimulatorConfig struct {
	Start    decimal.Decimal // 起始价格
	Step     decimal.Decimal // 单步最小位移
	Interval time.Duration   // 报价间隔
	Seed     uint64
}

// Simulator 以随机游走生成报价，无需行情桥即可运行整个服务
type Simulator struct {
	cfg    SimulatorConfig
	rng    *rand.Rand
	bars   *BarAggregator
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	latest model.Tick
}

func NewSimulator(cfg SimulatorConfig, logger *zap.Logger) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	return &Simulator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1)),
		bars:   NewBarAggregator(time.Minute, 5000),
		logger: logger,
		now:    time.Now,
	}
}

// Start 按固定间隔生成报价，直到 ctx 取消
func (s *Simulator) Start(ctx context.Context) error {
	s.logger.Info("Simulator started",
		zap.String("start", s.cfg.Start.String()),
		zap.String("step", s.cfg.Step.String()),
		zap.Duration("interval", s.cfg.Interval))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.step()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Simulator stopped")
			return nil
		case <-ticker.C:
			s.step()
		}
	}
}

// step 生成下一笔报价: 价格移动 -2..+2 个步长，且不低于一个步长
func (s *Simulator) step() model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	price := s.cfg.Start
	seq := now.UnixMilli()
	if !s.latest.IsZero() {
		move := s.cfg.Step.Mul(decimal.NewFromInt(int64(s.rng.IntN(5) - 2)))
		price = s.latest.Price.Add(move)
		if price.LessThan(s.cfg.Step) {
			price = s.cfg.Step
		}
		seq = max(seq, s.latest.Sequence+1)
	}

	s.latest = model.Tick{Price: price, Sequence: seq, Time: now}
	s.bars.ProcessTick(s.latest)
	return s.latest
}

func (s *Simulator) LatestTick(_ context.Context) (model.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest.IsZero() {
		return model.Tick{}, ErrFeedUnavailable
	}
	return s.latest, nil
}

func (s *Simulator) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.latest.IsZero()
}

// HistoricalBars 返回模拟器自身聚合出的一分钟 K 线
func (s *Simulator) HistoricalBars(_ context.Context, timeframe string, from, count int) ([]model.Bar, error) {
	if timeframe != TimeframeM1 {
		return nil, errors.Errorf("unsupported timeframe %q", timeframe)
	}
	return s.bars.Bars(from, count), nil
}
