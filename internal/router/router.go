package router

import (
	"time"

	"footprint-flow/internal/handler"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Config struct {
	FootprintHandler *handler.FootprintHandler
	LiveHandler      *handler.LiveHandler
	Logger           *zap.Logger
}

func NewRouter(cfg *Config) *gin.Engine {
	router := gin.New()
	// 前端与服务分开部署，允许任意来源
	router.Use(gin.Recovery(), ZapLogger(cfg.Logger), cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	api := router.Group("/api")
	registerFootprintRoutes(api, cfg.FootprintHandler)

	router.GET("/ws/price", cfg.LiveHandler.ServePrice)
	router.GET("/healthz", cfg.LiveHandler.Health)

	return router
}
