package store

import (
	"encoding/binary"

	"footprint-flow/internal/model"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Partition 是一个日分区 (一个 bbolt 文件)
type Partition struct {
	name string
	db   *bolt.DB
}

// Name 返回分区日期 YYYY-MM-DD
func (p *Partition) Name() string {
	return p.name
}

// Upsert 在一个事务内把所有归属累加到 (candleKey, bin) 上，要么全部生效要么全部不生效
func (p *Partition) Upsert(candleKey string, contributions []model.Contribution) (model.Commit, error) {
	commit := model.Commit{Partition: p.name}

	err := guard(p.name, func() error {
		return p.db.Update(func(tx *bolt.Tx) error {
			history, err := tx.CreateBucketIfNotExists(historyBucket)
			if err != nil {
				return err
			}
			candle, err := history.CreateBucketIfNotExists([]byte(candleKey))
			if err != nil {
				return err
			}

			for _, c := range contributions {
				key := encodeBin(c.Bin)
				agg, err := decodeAggregate(candle.Get(key))
				if err != nil {
					return errors.Wrapf(err, "candle %s bin %d", candleKey, c.Bin)
				}
				if err := candle.Put(key, encodeAggregate(agg.Add(c))); err != nil {
					return err
				}
			}

			commit.Sequence, err = history.NextSequence()
			return err
		})
	})
	if err != nil {
		return model.Commit{}, errors.Wrapf(err, "upsert %s/%s", p.name, candleKey)
	}
	return commit, nil
}

// RecentHistory 按 K 线时间倒序返回最多 limit 根 K 线，以及该快照对应的写序号
func (p *Partition) RecentHistory(limit int) ([]model.CandleFootprint, model.Commit, error) {
	out := make([]model.CandleFootprint, 0, min(max(limit, 0), 64))
	commit := model.Commit{Partition: p.name}

	err := guard(p.name, func() error {
		return p.db.View(func(tx *bolt.Tx) error {
			history := tx.Bucket(historyBucket)
			if history == nil {
				return nil // 尚未写入过
			}
			commit.Sequence = history.Sequence()

			c := history.Cursor()
			for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
				if v != nil {
					continue // 只处理嵌套 bucket
				}
				fp, err := readCandle(history.Bucket(k), string(k))
				if err != nil {
					return err
				}
				out = append(out, fp)
			}
			return nil
		})
	})
	if err != nil {
		return nil, model.Commit{}, errors.Wrapf(err, "read history %s", p.name)
	}
	return out, commit, nil
}

func readCandle(candle *bolt.Bucket, key string) (model.CandleFootprint, error) {
	fp := model.CandleFootprint{
		CandleKey: key,
		Bins:      make(map[int64]model.BinAggregate),
	}
	err := candle.ForEach(func(k, v []byte) error {
		if len(k) != 8 {
			return errors.Errorf("candle %s: bad bin key length %d", key, len(k))
		}
		agg, err := decodeAggregate(v)
		if err != nil {
			return errors.Wrapf(err, "candle %s", key)
		}
		fp.Bins[decodeBin(k)] = agg
		return nil
	})
	return fp, err
}

// bin 编码为翻转符号位的大端 uint64，字节序与数值序一致 (负价位也成立)
func encodeBin(bin int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(bin)^(1<<63))
	return b
}

func decodeBin(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func encodeAggregate(a model.BinAggregate) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], uint64(a.Buy))
	binary.BigEndian.PutUint64(b[8:], uint64(a.Sell))
	return b
}

func decodeAggregate(b []byte) (model.BinAggregate, error) {
	switch len(b) {
	case 0:
		return model.BinAggregate{}, nil
	case 16:
		return model.BinAggregate{
			Buy:  int64(binary.BigEndian.Uint64(b[:8])),
			Sell: int64(binary.BigEndian.Uint64(b[8:])),
		}, nil
	default:
		return model.BinAggregate{}, errors.Errorf("bad aggregate length %d", len(b))
	}
}
