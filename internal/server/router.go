package server

import (
	"net/http"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/config"
	"github.com/GRM3355/3355-backend-sub001/internal/gateway"
	"github.com/GRM3355/3355-backend-sub001/internal/metrics"
	"github.com/GRM3355/3355-backend-sub001/internal/mw"
	"github.com/GRM3355/3355-backend-sub001/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 初始化 Gin 中间件、只读 API 和 WebSocket 接入点。
func SetupRouter(cfg config.Config, facade *query.Facade, gw *gateway.Gateway) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(facade, cfg.HistoryPage)
	api := r.Group("/api/v1")
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id/messages", h.ListMessages)

	r.GET("/ws", gw.Serve())
	return r
}
