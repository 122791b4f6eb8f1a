package handler

import (
	"context"
	"net/http"

	"footprint-flow/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Subscriptions interface {
	Subscribe(ctx context.Context, conn hub.Conn) (uuid.UUID, error)
	Unsubscribe(id uuid.UUID)
	Count() int
}

// FeedStatus 报告上游行情源状态
type FeedStatus interface {
	Connected() bool
}

// IngestStatus 报告摄取循环进度
type IngestStatus interface {
	LastSequence() int64
}

type LiveHandler struct {
	subs     Subscriptions
	feed     FeedStatus
	ingest   IngestStatus
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewLiveHandler(subs Subscriptions, feed FeedStatus, ingest IngestStatus, logger *zap.Logger) *LiveHandler {
	return &LiveHandler{
		subs:   subs,
		feed:   feed,
		ingest: ingest,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServePrice 升级为 WebSocket 并注册为实时订阅者，客户端消息一律忽略
func (h *LiveHandler) ServePrice(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(4096)

	id, err := h.subs.Subscribe(c.Request.Context(), conn)
	if err != nil {
		h.logger.Warn("failed to subscribe", zap.Error(err))
		_ = conn.Close()
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.subs.Unsubscribe(id)
			return
		}
	}
}

func (h *LiveHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"subscribers":   h.subs.Count(),
		"feedConnected": h.feed.Connected(),
		"lastSequence":  h.ingest.LastSequence(),
	})
}
