// Package zone 汇总某个价格区间在最近 N 根 K 线内的成交量分布。
package zone

import (
	"context"
	"time"

	"footprint-flow/internal/footprint"
	"footprint-flow/internal/model"
	"footprint-flow/internal/service"
	"footprint-flow/internal/store"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var ErrInvalidZone = errors.New("zone: top is below bottom")

// Reader 读取某日分区最近 limit 根 K 线，分区不存在时返回 store.ErrPartitionNotFound
type Reader interface {
	ReadRecent(date time.Time, limit int) ([]model.CandleFootprint, error)
}

type Scanner struct {
	reader Reader
	logger *zap.Logger
	now    func() time.Time
}

func NewScanner(reader Reader, logger *zap.Logger) *Scanner {
	return &Scanner{
		reader: reader,
		logger: logger,
		now:    time.Now,
	}
}

// Scan 扫描昨天和今天两个分区，累加 [floor(bottom), floor(top)] 内每个 Bin 的买卖量
// 单个分区读取失败只记录日志并按零处理；只有 ctx 取消会返回错误。
func (s *Scanner) Scan(ctx context.Context, top, bottom decimal.Decimal, candleLimit int) (model.ZoneProfile, error) {
	if top.LessThan(bottom) {
		return model.ZoneProfile{}, ErrInvalidZone
	}

	topBin, bottomBin := footprint.Bin(top), footprint.Bin(bottom)
	now := s.now()
	dates := []time.Time{now.AddDate(0, 0, -1), now}

	p := pool.NewWithResults[map[int64]model.ZoneLevel]().WithContext(ctx)
	for _, date := range dates {
		p.Go(func(ctx context.Context) (map[int64]model.ZoneLevel, error) {
			return s.scanPartition(ctx, date, bottomBin, topBin, candleLimit)
		})
	}
	partials, err := p.Wait()
	if err != nil {
		return model.ZoneProfile{}, err
	}

	profile := model.ZoneProfile{
		Profile: make(map[int64]model.ZoneLevel),
		Top:     top.InexactFloat64(),
		Bottom:  bottom.InexactFloat64(),
	}
	for _, partial := range partials {
		for bin, level := range partial {
			acc := profile.Profile[bin]
			acc.Buy += level.Buy
			acc.Sell += level.Sell
			acc.Total += level.Total
			profile.Profile[bin] = acc
		}
	}
	for _, level := range profile.Profile {
		profile.MaxVolume = max(profile.MaxVolume, level.Total)
	}
	return profile, nil
}

func (s *Scanner) scanPartition(ctx context.Context, date time.Time, bottomBin, topBin int64, candleLimit int) (map[int64]model.ZoneLevel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	partition := service.PartitionDate(date)
	history, err := s.reader.ReadRecent(date, candleLimit)
	if err != nil {
		if errors.Is(err, store.ErrPartitionNotFound) {
			s.logger.Debug("Zone scan: partition missing, skipped", zap.String("partition", partition))
		} else {
			s.logger.Warn("Zone scan: partition unreadable, skipped",
				zap.String("partition", partition), zap.Error(err))
		}
		return nil, nil
	}

	levels := make(map[int64]model.ZoneLevel)
	for _, candle := range history {
		for bin, agg := range candle.Bins {
			if bin < bottomBin || bin > topBin {
				continue
			}
			level := levels[bin]
			level.Buy += agg.Buy
			level.Sell += agg.Sell
			level.Total += agg.Total()
			levels[bin] = level
		}
	}
	return levels, nil
}
