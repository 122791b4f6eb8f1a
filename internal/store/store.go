// Package store 按日历日期分区保存每根 K 线的足迹。
//
// 每个日期一个 bbolt 文件 <dir>/<YYYY-MM-DD>_<INSTRUMENT>.db:
//
//	footprint_history/            (bucket, Sequence() 为分区写序号)
//	  2024-05-01 09:31:00/        (每根 K 线一个嵌套 bucket)
//	    <bin 8 字节> -> <buy 8 字节><sell 8 字节>
//
// 单次 Upsert 在一个读写事务内完成；读取走只读事务，看到的是某个已提交时刻的快照。
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"footprint-flow/internal/model"
	"footprint-flow/internal/service"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrPartitionNotFound = errors.New("store: partition not found")
	ErrClosed            = errors.New("store: closed")
	ErrCorrupt           = errors.New("store: partition corrupt")
)

var historyBucket = []byte("footprint_history")

const openTimeout = time.Second

// Store 管理所有已打开的日分区句柄
// 句柄按需打开并在进程内共享；写入方不会主动关闭旧分区，统一由 Close 释放。
// 打开文件不持有 mu，读路径打开旧分区不会阻塞写入方。
type Store struct {
	dir        string
	instrument string
	logger     *zap.Logger

	opening singleflight.Group // 同名分区只打开一次，bbolt 文件锁不可重入

	mu         sync.Mutex
	partitions map[string]*Partition
	corrupt    map[string]error // 已确认损坏的分区，不再重复打开
	closed     bool
}

// New 创建 Store，并确保数据目录存在
func New(dir, instrument string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}
	return &Store{
		dir:        dir,
		instrument: instrument,
		logger:     logger,
		partitions: make(map[string]*Partition),
		corrupt:    make(map[string]error),
	}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.db", name, s.instrument))
}

// Partition 返回 date 所在本地日期的分区，不存在时创建
func (s *Store) Partition(date time.Time) (*Partition, error) {
	return s.open(service.PartitionDate(date), true)
}

// OpenExisting 返回 date 所在本地日期的分区；文件不存在或为空时返回 ErrPartitionNotFound，不会修改文件
func (s *Store) OpenExisting(date time.Time) (*Partition, error) {
	return s.open(service.PartitionDate(date), false)
}

func (s *Store) open(name string, create bool) (*Partition, error) {
	for {
		if p, err := s.cached(name); p != nil || err != nil {
			return p, err
		}

		v, err, _ := s.opening.Do(name, func() (any, error) {
			if p, err := s.cached(name); p != nil || err != nil {
				return p, err
			}
			return s.openFile(name, create)
		})
		// 写入方可能搭上了只读打开的同一次调用，此时需要自己再创建一次
		if create && errors.Is(err, ErrPartitionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return v.(*Partition), nil
	}
}

func (s *Store) cached(name string) (*Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if err, ok := s.corrupt[name]; ok {
		return nil, err
	}
	return s.partitions[name], nil
}

func (s *Store) openFile(name string, create bool) (*Partition, error) {
	path := s.path(name)
	if !create {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrPartitionNotFound
			}
			return nil, errors.Wrapf(err, "stat partition %s", name)
		}
		// 空文件会被 bbolt 初始化，读路径不能写文件
		if info.Size() == 0 {
			return nil, ErrPartitionNotFound
		}
	}

	var db *bolt.DB
	err := guard(name, func() (err error) {
		db, err = bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			s.logger.Error("Partition corrupt", zap.String("partition", name), zap.Error(err))
			s.mu.Lock()
			s.corrupt[name] = err
			s.mu.Unlock()
			return nil, err
		}
		return nil, errors.Wrapf(err, "open partition %s", name)
	}

	p := &Partition{name: name, db: db}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		db.Close()
		return nil, ErrClosed
	}
	s.partitions[name] = p
	s.logger.Info("Partition opened", zap.String("partition", name), zap.String("path", path))
	return p, nil
}

// guard 把 bbolt 在页面损坏时的 panic 转为 ErrCorrupt
func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrCorrupt, "partition %s: %v", name, r)
		}
	}()
	return fn()
}

// Upsert 将一次跳动的全部归属写入 date 所在分区
func (s *Store) Upsert(date time.Time, candleKey string, contributions []model.Contribution) (model.Commit, error) {
	p, err := s.Partition(date)
	if err != nil {
		return model.Commit{}, err
	}
	return p.Upsert(candleKey, contributions)
}

// RecentHistory 读取 date 所在分区最近 limit 根 K 线
func (s *Store) RecentHistory(date time.Time, limit int) ([]model.CandleFootprint, model.Commit, error) {
	p, err := s.Partition(date)
	if err != nil {
		return nil, model.Commit{}, err
	}
	return p.RecentHistory(limit)
}

// ReadRecent 只读路径: 分区文件不存在时返回 ErrPartitionNotFound
func (s *Store) ReadRecent(date time.Time, limit int) ([]model.CandleFootprint, error) {
	p, err := s.OpenExisting(date)
	if err != nil {
		return nil, err
	}
	history, _, err := p.RecentHistory(limit)
	return history, err
}

// Close 关闭所有分区句柄，只应在摄取循环退出后调用
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for name, p := range s.partitions {
		if err := p.db.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close partition %s", name)
		}
	}
	s.partitions = nil
	return firstErr
}
