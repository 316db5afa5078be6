package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket sessions",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages sent",
	})
	WsLikesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_likes_total",
		Help: "Total number of like toggles processed",
	})
	BrokerPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broker_published_total",
		Help: "Envelopes published to the fan-out channel",
	}, []string{"op"})
	BrokerDeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broker_delivered_total",
		Help: "Envelopes delivered from the fan-out channel",
	}, []string{"op"})
	BrokerReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_broker_reconnects_total",
		Help: "Reconnect attempts of the fan-out channel",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsMessagesTotal, WsLikesTotal,
		BrokerPublishedTotal, BrokerDeliveredTotal, BrokerReconnects,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
