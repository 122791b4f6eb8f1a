package handler

import (
	"context"
	"net/http"
	"time"

	"footprint-flow/internal/api"
	"footprint-flow/internal/model"
	"footprint-flow/internal/service"
	"footprint-flow/internal/zone"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type HistoryReader interface {
	RecentHistory(date time.Time, limit int) ([]model.CandleFootprint, model.Commit, error)
}

type BarSource interface {
	HistoricalBars(ctx context.Context, timeframe string, from, count int) ([]model.Bar, error)
}

type ZoneScanner interface {
	Scan(ctx context.Context, top, bottom decimal.Decimal, candleLimit int) (model.ZoneProfile, error)
}

type FootprintHandler struct {
	history HistoryReader
	bars    BarSource
	zones   ZoneScanner
	query   service.QueryConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewFootprintHandler(history HistoryReader, bars BarSource, zones ZoneScanner, query service.QueryConfig, logger *zap.Logger) *FootprintHandler {
	return &FootprintHandler{
		history: history,
		bars:    bars,
		zones:   zones,
		query:   query,
		logger:  logger,
		now:     time.Now,
	}
}

// GetHistory 返回当日最近的 K 线足迹，最新在前
func (h *FootprintHandler) GetHistory(c *gin.Context) {
	limit := service.PositiveIntOr(c.Query("limit"), h.query.HistoryLimit)

	history, _, err := h.history.RecentHistory(h.now(), limit)
	if err != nil {
		h.logger.Error("failed to read history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if history == nil {
		history = []model.CandleFootprint{}
	}
	c.JSON(http.StatusOK, history)
}

// GetOHLC 透传上游一分钟 K 线，上游不可用时返回空列表
func (h *FootprintHandler) GetOHLC(c *gin.Context) {
	count := service.PositiveIntOr(c.Query("count"), h.query.OHLCCount)

	bars, err := h.bars.HistoricalBars(c.Request.Context(), api.TimeframeM1, 0, count)
	if err != nil {
		h.logger.Warn("historical bars unavailable", zap.Error(err))
		bars = nil
	}
	if bars == nil {
		bars = []model.Bar{}
	}
	c.JSON(http.StatusOK, bars)
}

// GetZoneProfile 统计 [bottom, top] 区间内的买卖量分布
func (h *FootprintHandler) GetZoneProfile(c *gin.Context) {
	top, err := decimalParam(c, "top", "p_top")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bottom, err := decimalParam(c, "bottom", "p_bottom")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bars := service.PositiveIntOr(c.Query("bars"), h.query.ZoneBars)

	profile, err := h.zones.Scan(c.Request.Context(), top, bottom, bars)
	switch {
	case errors.Is(err, zone.ErrInvalidZone):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("zone scan failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// decimalParam 依次读取参数名，取第一个非空值
func decimalParam(c *gin.Context, names ...string) (decimal.Decimal, error) {
	for _, name := range names {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		d, err := service.StringToDecimal(raw)
		if err != nil {
			return decimal.Zero, errors.Errorf("invalid %s: %q", name, raw)
		}
		return d, nil
	}
	return decimal.Zero, errors.Errorf("missing %s", names[0])
}
