package hub

import (
	"context"
	"sync"
	"time"

	"footprint-flow/internal/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("hub: closed")

// Conn 是单个实时订阅者的传输通道，*websocket.Conn 满足该接口
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// deadlineConn 可选: 支持写超时的连接
type deadlineConn interface {
	SetWriteDeadline(t time.Time) error
}

// HistoryReader 提供订阅时的历史快照及其提交位置
type HistoryReader interface {
	RecentHistory(date time.Time, limit int) ([]model.CandleFootprint, model.Commit, error)
}

// PriceSource 提供订阅时的当前价格
type PriceSource interface {
	LatestTick(ctx context.Context) (model.Tick, error)
}

type Options struct {
	SnapshotCandles int           // INIT_DATA 中的 K 线数
	SendBuffer      int           // 每个订阅者的待发送队列长度
	WriteTimeout    time.Duration // 单条消息写超时
}

// Hub 管理实时订阅者并广播已提交的增量
type Hub struct {
	history HistoryReader
	prices  PriceSource
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.RWMutex
	subscribers map[uuid.UUID]*subscriber
	closed      bool
}

func New(history HistoryReader, prices PriceSource, opts Options, logger *zap.Logger) *Hub {
	if opts.SnapshotCandles <= 0 {
		opts.SnapshotCandles = 30
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Hub{
		history:     history,
		prices:      prices,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[uuid.UUID]*subscriber),
	}
}

// Subscribe 注册连接并异步发送 INIT_DATA，之后按发布顺序推送 POWER_UPDATE。
// 先注册再取快照，快照之后提交的增量都会进入队列，快照已包含的增量会被丢弃。
func (h *Hub) Subscribe(ctx context.Context, conn Conn) (uuid.UUID, error) {
	sub := &subscriber{
		id:    uuid.New(),
		conn:  conn,
		queue: make(chan model.PowerUpdate, h.opts.SendBuffer),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return uuid.Nil, ErrClosed
	}
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	history, snapshot, err := h.history.RecentHistory(h.now(), h.opts.SnapshotCandles)
	if err != nil {
		h.Unsubscribe(sub.id)
		return uuid.Nil, errors.Wrap(err, "load snapshot")
	}
	if history == nil {
		history = []model.CandleFootprint{}
	}

	initMsg := model.InitDataMessage{
		Type:    model.MessageInitData,
		History: history,
	}
	if tick, err := h.prices.LatestTick(ctx); err == nil {
		initMsg.CurrentPrice = tick.Price.InexactFloat64()
	} else {
		h.logger.Debug("current price unavailable for snapshot", zap.Error(err))
	}

	go h.writeLoop(sub, initMsg, snapshot)

	h.logger.Info("subscriber joined",
		zap.String("subscriber", sub.id.String()),
		zap.String("partition", snapshot.Partition),
		zap.Uint64("sequence", snapshot.Sequence))
	return sub.id, nil
}

// Unsubscribe 移除订阅者并关闭连接，可重复调用
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()

	if ok {
		sub.close()
		h.logger.Info("subscriber left", zap.String("subscriber", id.String()))
	}
}

// Publish 把增量放入每个订阅者的队列，从不阻塞调用方
func (h *Hub) Publish(update model.PowerUpdate) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- update:
		default:
			h.logger.Info("subscriber queue full, dropping subscriber",
				zap.String("subscriber", sub.id.String()))
			h.Unsubscribe(sub.id)
		}
	}
}

// Count 返回当前订阅者数量
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close 关闭全部订阅者，之后的 Subscribe 返回 ErrClosed
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subscribers
	h.subscribers = make(map[uuid.UUID]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	h.logger.Info("hub closed", zap.Int("subscribers", len(subs)))
}

func (h *Hub) writeLoop(sub *subscriber, initMsg model.InitDataMessage, snapshot model.Commit) {
	if err := h.write(sub, initMsg); err != nil {
		h.logger.Info("failed to deliver INIT_DATA", zap.String("subscriber", sub.id.String()), zap.Error(err))
		h.Unsubscribe(sub.id)
		return
	}

	for {
		select {
		case <-sub.done:
			return
		case update := <-sub.queue:
			if snapshot.Covers(update.Commit) {
				continue
			}
			if err := h.write(sub, update.Message()); err != nil {
				h.logger.Info("failed to deliver POWER_UPDATE", zap.String("subscriber", sub.id.String()), zap.Error(err))
				h.Unsubscribe(sub.id)
				return
			}
		}
	}
}

func (h *Hub) write(sub *subscriber, msg any) error {
	if dc, ok := sub.conn.(deadlineConn); ok && h.opts.WriteTimeout > 0 {
		_ = dc.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	}
	return sub.conn.WriteJSON(msg)
}

type subscriber struct {
	id    uuid.UUID
	conn  Conn
	queue chan model.PowerUpdate
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
