package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"footprint-flow/internal/api"
	"footprint-flow/internal/engine"
	"footprint-flow/internal/handler"
	"footprint-flow/internal/hub"
	"footprint-flow/internal/router"
	"footprint-flow/internal/service"
	"footprint-flow/internal/store"
	"footprint-flow/internal/zone"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// feed 是行情桥与模拟器的共同能力
type feed interface {
	engine.TickSource
	handler.BarSource
	handler.FeedStatus
	Start(ctx context.Context) error
}

func main() {
	configPath := "config"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = "."
	}
	cfg, err := service.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := service.InitLogger(cfg.App.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer service.Logger.Sync()

	if err := run(cfg); err != nil {
		service.Logger.Fatal("footprint-flow exited with error", zap.Error(err))
	}
}

func run(cfg *service.Config) error {
	logger := service.Logger.With(zap.String("App", cfg.App.Name))

	st, err := store.New(cfg.Storage.Dir, cfg.Storage.Instrument, logger.With(zap.String("component", "store")))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", zap.Error(err))
		}
	}()

	var source feed
	switch cfg.Feed.Mode {
	case service.FeedModeSimulator:
		source = api.NewSimulator(api.SimulatorConfig{
			Start:    decimal.NewFromFloat(cfg.Feed.SimStart),
			Step:     decimal.NewFromFloat(cfg.Feed.SimStep),
			Interval: cfg.Feed.SimInterval,
		}, logger.With(zap.String("component", "simulator")))
	default:
		source = api.NewConnector(api.ConnectorConfig{
			Symbol:         cfg.Feed.Symbol,
			WSURL:          cfg.Feed.WSURL,
			RESTURL:        cfg.Feed.RESTURL,
			StaleAfter:     cfg.Feed.StaleAfter,
			RequestTimeout: cfg.Feed.RequestTimeout,
		}, logger.With(zap.String("component", "connector")))
	}

	broadcast := hub.New(st, source, hub.Options{
		SnapshotCandles: cfg.Hub.SnapshotCandles,
		SendBuffer:      cfg.Hub.SendBuffer,
		WriteTimeout:    cfg.Hub.WriteTimeout,
	}, logger.With(zap.String("component", "hub")))

	dataEngine := engine.NewDataEngine(source, st, broadcast, cfg.Ingest.PollInterval,
		logger.With(zap.String("component", "engine")))

	scanner := zone.NewScanner(st, logger.With(zap.String("component", "zone")))

	gin.SetMode(gin.ReleaseMode)
	httpLogger := logger.With(zap.String("component", "http"))
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: router.NewRouter(&router.Config{
			FootprintHandler: handler.NewFootprintHandler(st, source, scanner, cfg.Query, httpLogger),
			LiveHandler:      handler.NewLiveHandler(broadcast, source, dataEngine, httpLogger),
			Logger:           httpLogger,
		}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return source.Start(gctx)
	})

	engineDone := make(chan struct{})
	g.Go(func() error {
		defer close(engineDone)
		return dataEngine.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("Addr", cfg.Server.Addr), zap.String("Feed", cfg.Feed.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	// 关闭顺序: 摄取循环 -> HTTP -> 订阅者，存储在 run 返回时关闭
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		<-engineDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		broadcast.Close()
		return errors.Wrap(err, "http shutdown")
	})

	return g.Wait()
}
