package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"footprint-flow/internal/model"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrFeedUnavailable 行情源未连接或报价已过期
var ErrFeedUnavailable = errors.New("feed unavailable")

// BridgeTick 行情桥推送的报价结构 (MT5 symbol_info_tick)
type BridgeTick struct {
	Symbol  string          `json:"symbol"`
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	TimeMsc int64           `json:"time_msc"` // 毫秒时间戳，同时作为序号
}

// BridgeEvent 行情桥的通用消息 (订阅回执或报价)
type BridgeEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type ConnectorConfig struct {
	Symbol         string
	WSURL          string
	RESTURL        string
	StaleAfter     time.Duration // 超过该时长未收到报价视为不可用，0 表示不检查
	RequestTimeout time.Duration
}

// Connector 通过 WebSocket 订阅行情桥报价，缓存最新一笔供摄取循环轮询
type Connector struct {
	cfg    ConnectorConfig
	dialer *websocket.Dialer
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.RWMutex
	latest    model.Tick
	received  time.Time
	connected bool
}

func NewConnector(cfg ConnectorConfig, logger *zap.Logger) *Connector {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 8 * time.Second
	}
	logger.Info("Connector initialized", zap.String("Symbol", cfg.Symbol), zap.String("URL", cfg.WSURL))
	return &Connector{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
		now:    time.Now,

		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Start 维持与行情桥的连接，断线后退避重连，直到 ctx 取消
// 成功订阅过的连接断开后，退避从最小值重新开始。
func (c *Connector) Start(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		subscribed, err := c.session(ctx)
		c.setConnected(false)
		if ctx.Err() != nil {
			c.logger.Info("Connector stopped")
			return nil
		}
		if subscribed {
			backoff = c.minBackoff
		}
		c.logger.Warn("bridge connection lost, reconnecting...",
			zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			c.logger.Info("Connector stopped")
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// session 建立一次连接并持续读取，连接失败或读错误时返回；subscribed 表示订阅是否成功
func (c *Connector) session(ctx context.Context) (subscribed bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return false, errors.Wrapf(err, "dial %s", c.cfg.WSURL)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	subscribeMsg := map[string]any{
		"op":     "subscribe",
		"symbol": c.cfg.Symbol,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return false, errors.Wrap(err, "send subscription")
	}
	c.setConnected(true)
	c.logger.Info("Subscribed to bridge tick stream", zap.String("Symbol", c.cfg.Symbol))

	return true, c.readLoop(conn)
}

// readLoop 持续读取报价消息，只保留最新一笔
func (c *Connector) readLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read bridge message")
		}

		var event BridgeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			c.logger.Debug("unparseable bridge message", zap.Error(err))
			continue
		}
		if event.Event != "tick" || len(event.Data) == 0 {
			continue // 订阅回执、心跳
		}

		var bt BridgeTick
		if err := json.Unmarshal(event.Data, &bt); err != nil {
			c.logger.Error("Tick data unmarshal error", zap.Error(err))
			continue
		}
		if bt.Symbol != "" && bt.Symbol != c.cfg.Symbol {
			continue
		}

		c.mu.Lock()
		c.latest = model.Tick{
			Price:    bt.Bid,
			Sequence: bt.TimeMsc,
			Time:     time.UnixMilli(bt.TimeMsc),
		}
		c.received = c.now()
		c.mu.Unlock()
	}
}

func (c *Connector) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// LatestTick 返回缓存的最新报价，未连接、尚无报价或已过期时返回 ErrFeedUnavailable
func (c *Connector) LatestTick(_ context.Context) (model.Tick, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.latest.IsZero() {
		return model.Tick{}, ErrFeedUnavailable
	}
	if c.cfg.StaleAfter > 0 && c.now().Sub(c.received) > c.cfg.StaleAfter {
		return model.Tick{}, errors.Wrapf(ErrFeedUnavailable, "last tick %s ago", c.now().Sub(c.received))
	}
	return c.latest, nil
}

// Connected 报告当前是否与行情桥保持连接
func (c *Connector) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HistoricalBars 通过行情桥 REST 接口拉取历史 K 线，按时间升序返回
func (c *Connector) HistoricalBars(ctx context.Context, timeframe string, from, count int) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("symbol", c.cfg.Symbol)
	q.Set("timeframe", timeframe)
	q.Set("from", strconv.Itoa(from))
	q.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.RESTURL+"/rates?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build rates request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrFeedUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrFeedUnavailable, "rates status %d", resp.StatusCode)
	}

	var bars []model.Bar
	if err := json.NewDecoder(resp.Body).Decode(&bars); err != nil {
		return nil, errors.Wrap(err, "decode rates")
	}
	return bars, nil
}
