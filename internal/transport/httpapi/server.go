// Package httpapi предоставляет REST API кассы поверх gin и live-ленту заказов по websocket.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pos/internal/service/orders"
)

// Server собирает маршруты REST API.
type Server struct {
	orders   *orders.Service
	resolver domain.IdentityResolver
	guard    *idempotency.Guard
	feed     *Feed
	metrics  *metrics.HTTPMetrics
	origins  []string
	logger   *log.Entry
}

// Option настраивает Server.
type Option func(*Server)

// WithIdempotency включает обработку заголовка Idempotency-Key.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(s *Server) { s.guard = guard }
}

// WithFeed подключает websocket-ленту /api/orders/stream.
func WithFeed(feed *Feed) Option {
	return func(s *Server) { s.feed = feed }
}

// WithMetrics включает гистограмму длительности запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCORSOrigins задаёт разрешённые источники; "*" разрешает все.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer создаёт REST-сервер поверх сервиса заказов.
func NewServer(svc *orders.Service, resolver domain.IdentityResolver, opts ...Option) *Server {
	s := &Server{
		orders:   svc,
		resolver: resolver,
		origins:  []string{"*"},
		logger:   log.WithField("component", "http-api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler возвращает gin.Engine со всеми маршрутами.
func (s *Server) Handler() http.Handler {
	return s.engine()
}

func (s *Server) engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(s.recover))
	r.Use(requestID())
	r.Use(s.requestLogger())
	if s.metrics != nil {
		r.Use(s.observe())
	}
	r.Use(cors.New(s.corsConfig()))

	api := r.Group("/api")
	api.Use(s.authenticate())
	{
		ordersGroup := api.Group("/orders")
		ordersGroup.GET("", s.listActive)
		ordersGroup.POST("", s.createOrder)
		ordersGroup.GET("/history", s.listHistory)
		ordersGroup.DELETE("/history", s.clearHistory)
		ordersGroup.GET("/history/export", s.exportHistory)
		if s.feed != nil {
			ordersGroup.GET("/stream", s.feed.serve)
		}
		ordersGroup.GET("/:id", s.getOrder)
		ordersGroup.PUT("/:id", s.updateOrder)
		ordersGroup.POST("/:id/pay", s.payOrder)
		ordersGroup.POST("/:id/cancel", s.cancelOrder)

		api.GET("/stats", s.getStats)
	}
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", headerIdempotencyKey, headerRequestID},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", headerRequestID, headerIdempotentReplay},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range s.origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = s.origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.logger.WithField("panic", recovered).WithField("path", c.Request.URL.Path).Error("panic in http handler")
	c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{Success: false, Message: messageInternal})
}
