package router

import (
	"footprint-flow/internal/handler"

	"github.com/gin-gonic/gin"
)

func registerFootprintRoutes(router *gin.RouterGroup, footprintHandler *handler.FootprintHandler) {
	router.GET("/history", footprintHandler.GetHistory)
	router.GET("/ohlc", footprintHandler.GetOHLC)
	router.GET("/zone-profile", footprintHandler.GetZoneProfile)
}
