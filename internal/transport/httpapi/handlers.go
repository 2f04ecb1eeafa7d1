package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/history"
	"github.com/vladislavdragonenkov/pos/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pos/internal/service/stats"
	"github.com/vladislavdragonenkov/pos/internal/transport/wire"
)

const jsonContentType = "application/json; charset=utf-8"

var errConflictingFlags = fmt.Errorf("%w: isPaid and isCancelled cannot both be set", domain.ErrValidation)

func (s *Server) listActive(c *gin.Context) {
	orders, err := s.orders.ListActive(c.Request.Context(), ownerFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{Success: true, Orders: wire.FromOrders(orders)})
}

// createOrder создаёт заказ. С заголовком Idempotency-Key повтор того же
// запроса получает сохранённый ответ вместо второго заказа.
func (s *Server) createOrder(c *gin.Context) {
	owner := ownerFrom(c)
	raw, err := c.GetRawData()
	if err != nil {
		s.writeError(c, fmt.Errorf("%w: read body: %v", domain.ErrValidation, err))
		return
	}

	key := idempotency.NormalizeKey(c.GetHeader(headerIdempotencyKey))
	if key == "" || s.guard == nil {
		status, body := s.create(c, owner, raw)
		c.Data(status, jsonContentType, body)
		return
	}

	// ключи разных владельцев не пересекаются
	scopedKey := owner + ":" + key
	hash := idempotency.HashRequest([]byte(owner), []byte(c.FullPath()), raw)
	stored, replay, err := s.guard.Begin(scopedKey, hash)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if replay {
		c.Header(headerIdempotentReplay, "true")
		c.Data(stored.Status, jsonContentType, stored.Body)
		return
	}

	status, body := s.create(c, owner, raw)
	s.guard.Complete(scopedKey, idempotency.Response{Status: status, Body: body})
	c.Data(status, jsonContentType, body)
}

func (s *Server) create(c *gin.Context, owner string, raw []byte) (int, []byte) {
	var req wire.CreateOrderRequest
	err := wire.Decode(raw, &req)
	var order domain.Order
	if err == nil {
		order, err = s.orders.Create(c.Request.Context(), owner, req.CustomerName, wire.ToItems(req.Items))
	}
	if err != nil {
		status, message := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.WithError(err).WithField("owner", owner).Error("create order failed")
		}
		return status, encode(envelope{Success: false, Message: message})
	}
	dto := wire.FromOrder(order)
	return http.StatusCreated, encode(envelope{Success: true, Order: &dto})
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.orders.Get(c.Request.Context(), ownerFrom(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOrder(c, http.StatusOK, order)
}

// updateOrder правит позиции либо, по флагам isPaid/isCancelled, переводит заказ в историю.
func (s *Server) updateOrder(c *gin.Context) {
	var req wire.UpdateOrderRequest
	if err := s.bind(c, &req); err != nil {
		s.writeError(c, err)
		return
	}

	ctx, owner, id := c.Request.Context(), ownerFrom(c), c.Param("id")
	paid := req.IsPaid != nil && *req.IsPaid
	cancelled := req.IsCancelled != nil && *req.IsCancelled

	var (
		order domain.Order
		err   error
	)
	switch {
	case paid && cancelled:
		err = errConflictingFlags
	case paid:
		var method domain.PaymentMethod
		if method, err = domain.ParsePaymentMethod(req.PaymentMethod); err == nil {
			order, err = s.orders.MarkPaid(ctx, owner, id, method)
		}
	case cancelled:
		order, err = s.orders.Cancel(ctx, owner, id)
	default:
		order, err = s.orders.Edit(ctx, owner, id, wire.ToItems(req.Items))
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOrder(c, http.StatusOK, order)
}

func (s *Server) payOrder(c *gin.Context) {
	var req wire.PayOrderRequest
	if err := s.bind(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	method, err := domain.ParsePaymentMethod(req.Method)
	if err != nil {
		s.writeError(c, err)
		return
	}
	order, err := s.orders.MarkPaid(c.Request.Context(), ownerFrom(c), c.Param("id"), method)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOrder(c, http.StatusOK, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	order, err := s.orders.Cancel(c.Request.Context(), ownerFrom(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOrder(c, http.StatusOK, order)
}

func (s *Server) listHistory(c *gin.Context) {
	r, err := history.ParseRange(c.Query("startDate"), c.Query("endDate"), s.orders.Location())
	if err != nil {
		s.writeError(c, err)
		return
	}
	orders, err := s.orders.History(c.Request.Context(), ownerFrom(c), r)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{Success: true, Orders: wire.FromOrders(orders)})
}

func (s *Server) clearHistory(c *gin.Context) {
	deleted, err := s.orders.ClearHistory(c.Request.Context(), ownerFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, clearEnvelope{Success: true, Deleted: deleted})
}

func (s *Server) exportHistory(c *gin.Context) {
	r, err := history.ParseRange(c.Query("startDate"), c.Query("endDate"), s.orders.Location())
	if err != nil {
		s.writeError(c, err)
		return
	}
	filename, csv, err := s.orders.ExportHistory(c.Request.Context(), ownerFrom(c), r)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(csv))
}

func (s *Server) getStats(c *gin.Context) {
	scale, err := stats.ParseScale(c.Query("scale"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	report, err := s.orders.Stats(c.Request.Context(), ownerFrom(c), scale)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statsEnvelope{Success: true, Stats: wire.FromStats(report)})
}

// bind разбирает JSON-тело; пустое тело допустимо и оставляет dst нулевым.
func (s *Server) bind(c *gin.Context, dst any) error {
	raw, err := c.GetRawData()
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrValidation, err)
	}
	if len(raw) == 0 {
		return nil
	}
	return wire.Decode(raw, dst)
}

func (s *Server) writeOrder(c *gin.Context, status int, order domain.Order) {
	dto := wire.FromOrder(order)
	c.JSON(status, envelope{Success: true, Order: &dto})
}

func encode(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"success":false,"message":"` + messageInternal + `"}`)
	}
	return body
}
