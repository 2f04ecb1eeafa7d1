package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	headerRequestID        = "X-Request-ID"
	headerIdempotencyKey   = "Idempotency-Key"
	headerIdempotentReplay = "Idempotent-Replayed"

	ctxKeyOwner     = "owner"
	ctxKeyRequestID = "request_id"
)

// requestID проставляет X-Request-ID, если клиент его не передал.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  c.GetString(ctxKeyRequestID),
		})
		if owner := c.GetString(ctxKeyOwner); owner != "" {
			entry = entry.WithField("owner", owner)
		}
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("http request failed")
		case c.Writer.Status() >= 400:
			entry.Info("http request rejected")
		default:
			entry.Debug("http request served")
		}
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// authenticate определяет владельца по bearer-токену. Для websocket-ленты
// браузер не умеет слать заголовки, поэтому там принимается и ?token=.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := c.GetHeader("Authorization")
		if credential == "" && c.FullPath() == "/api/orders/stream" {
			credential = c.Query("token")
		}

		owner, err := s.resolver.Resolve(c.Request.Context(), credential)
		if err != nil {
			s.logger.WithError(err).WithField("path", c.Request.URL.Path).Debug("authentication failed")
			abortUnauthorized(c)
			return
		}
		c.Set(ctxKeyOwner, owner)
		c.Next()
	}
}

func ownerFrom(c *gin.Context) string {
	return c.GetString(ctxKeyOwner)
}
