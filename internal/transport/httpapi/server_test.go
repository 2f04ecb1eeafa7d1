package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/pos/internal/identity"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pos/internal/service/orders"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/transport/wire"
)

const testSecret = "test-secret"

// ServerTestSuite проверяет REST API поверх сервиса с in-memory хранилищем.
type ServerTestSuite struct {
	suite.Suite
	handler  http.Handler
	metrics  *metrics.HTTPMetrics
	resolver *identity.JWTResolver
	token    string
	other    string
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (s *ServerTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "httpapi-test")

	now := time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	svc := orders.NewService(memory.NewOrderRepository(),
		orders.WithClock(clock),
		orders.WithLocation(time.UTC),
		orders.WithLogger(logger),
		orders.WithMetrics(metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())),
	)

	resolver, err := identity.NewJWTResolver(testSecret)
	s.Require().NoError(err)
	s.resolver = resolver
	s.token, err = resolver.Issue("owner-1", time.Hour)
	s.Require().NoError(err)
	s.other, err = resolver.Issue("owner-2", time.Hour)
	s.Require().NoError(err)

	s.metrics = metrics.NewHTTPMetrics(prometheus.NewRegistry())
	server := NewServer(svc, resolver,
		WithIdempotency(idempotency.NewGuard(memory.NewIdempotencyRepository(memory.WithIdempotencyClock(clock)), time.Hour, clock)),
		WithMetrics(s.metrics),
		WithLogger(logger),
	)
	s.handler = server.Handler()
}

func (s *ServerTestSuite) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *ServerTestSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func (s *ServerTestSuite) createOrder(body string) wire.Order {
	rec := s.do(http.MethodPost, "/api/orders", s.token, body)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Success bool       `json:"success"`
		Order   wire.Order `json:"order"`
	}
	s.decode(rec, &resp)
	s.Require().True(resp.Success)
	return resp.Order
}

const teaOrder = `{"customerName":"","items":[{"id":"m-1","name":"Tea","price":1.5,"category":"drinks","quantity":3}]}`

func (s *ServerTestSuite) TestRejectsMissingToken() {
	rec := s.do(http.MethodGet, "/api/orders", "", "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.JSONEq(`{"success":false,"message":"Unauthorized"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/orders", "not-a-jwt", "")
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *ServerTestSuite) TestCreateAndGet() {
	order := s.createOrder(teaOrder)
	s.Equal("001", order.ID)
	s.Equal("Guest", order.CustomerName)
	s.Equal("4.50", order.Total)
	s.Equal("1.50", order.Items[0].Price)
	s.False(order.IsPaid)
	s.False(order.IsCancelled)

	rec := s.do(http.MethodGet, "/api/orders/001", s.token, "")
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/orders", s.token, "")
	var list listEnvelope
	s.decode(rec, &list)
	s.Len(list.Orders, 1)
}

func (s *ServerTestSuite) TestCreateValidation() {
	rec := s.do(http.MethodPost, "/api/orders", s.token, `{"items":[]}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/orders", s.token, `{"items":[{"name":"Tea","price":1,"quantity":0}]}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/orders", s.token, `{"items":`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/orders", s.token, "")
	s.JSONEq(`{"success":true,"orders":[]}`, rec.Body.String())
}

func (s *ServerTestSuite) TestCreateIdempotencyKey() {
	first := s.do(http.MethodPost, "/api/orders", s.token, teaOrder, headerIdempotencyKey, "key-1")
	s.Require().Equal(http.StatusCreated, first.Code)

	replay := s.do(http.MethodPost, "/api/orders", s.token, teaOrder, headerIdempotencyKey, "key-1")
	s.Equal(http.StatusCreated, replay.Code)
	s.Equal("true", replay.Header().Get(headerIdempotentReplay))
	s.JSONEq(first.Body.String(), replay.Body.String())

	mismatch := s.do(http.MethodPost, "/api/orders", s.token, `{"items":[{"name":"Bun","price":"2.00","quantity":1}]}`, headerIdempotencyKey, "key-1")
	s.Equal(http.StatusUnprocessableEntity, mismatch.Code)

	// тот же ключ у другого владельца независим
	other := s.do(http.MethodPost, "/api/orders", s.other, teaOrder, headerIdempotencyKey, "key-1")
	s.Equal(http.StatusCreated, other.Code)
	s.Empty(other.Header().Get(headerIdempotentReplay))

	rec := s.do(http.MethodGet, "/api/orders", s.token, "")
	var list listEnvelope
	s.decode(rec, &list)
	s.Len(list.Orders, 1)
}

func (s *ServerTestSuite) TestPayThenRejectFurtherTransitions() {
	s.createOrder(teaOrder)

	rec := s.do(http.MethodPost, "/api/orders/001/pay", s.token, `{"method":"upi"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Order wire.Order `json:"order"`
	}
	s.decode(rec, &resp)
	s.True(resp.Order.IsPaid)
	s.Equal("upi", string(resp.Order.PaymentMethod))

	s.Equal(http.StatusConflict, s.do(http.MethodPost, "/api/orders/001/pay", s.token, `{"method":"cash"}`).Code)
	s.Equal(http.StatusConflict, s.do(http.MethodPost, "/api/orders/001/cancel", s.token, "").Code)
	s.Equal(http.StatusConflict, s.do(http.MethodPut, "/api/orders/001", s.token, teaOrder).Code)
}

func (s *ServerTestSuite) TestPayValidation() {
	s.createOrder(teaOrder)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/orders/001/pay", s.token, `{"method":"card"}`).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/orders/999/pay", s.token, `{"method":"cash"}`).Code)

	rec := s.do(http.MethodPost, "/api/orders/001/pay", s.token, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"paymentMethod":"unspecified"`)
}

func (s *ServerTestSuite) TestPutFlagsAndEdit() {
	s.createOrder(teaOrder)
	s.createOrder(teaOrder)

	rec := s.do(http.MethodPut, "/api/orders/001", s.token, `{"items":[{"name":"Tea","price":"1.50","quantity":1},{"name":"Bun","price":"2.25","quantity":2}]}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Contains(rec.Body.String(), `"total":"6.00"`)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPut, "/api/orders/001", s.token, `{"isPaid":true,"isCancelled":true}`).Code)

	rec = s.do(http.MethodPut, "/api/orders/001", s.token, `{"isPaid":true,"paymentMethod":"cash"}`)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"paymentMethod":"cash"`)

	rec = s.do(http.MethodPut, "/api/orders/002", s.token, `{"isCancelled":true}`)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"isCancelled":true`)
}

func (s *ServerTestSuite) TestOwnersAreIsolated() {
	s.createOrder(teaOrder)

	rec := s.do(http.MethodGet, "/api/orders/001", s.other, "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.JSONEq(`{"success":false,"message":"Order not found"}`, rec.Body.String())
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/orders/001/cancel", s.other, "").Code)
}

func (s *ServerTestSuite) TestHistoryExportAndClear() {
	s.createOrder(teaOrder)
	s.createOrder(teaOrder)
	s.createOrder(teaOrder)
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/orders/001/pay", s.token, `{"method":"cash"}`).Code)
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/orders/002/cancel", s.token, "").Code)

	rec := s.do(http.MethodGet, "/api/orders/history?startDate=2026-03-11&endDate=2026-03-11", s.token, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var list listEnvelope
	s.decode(rec, &list)
	s.Require().Len(list.Orders, 2)
	s.Equal("002", list.Orders[0].ID)

	rec = s.do(http.MethodGet, "/api/orders/history?startDate=2026-03-12", s.token, "")
	s.decode(rec, &list)
	s.Empty(list.Orders)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/orders/history?startDate=11.03.2026", s.token, "").Code)

	rec = s.do(http.MethodGet, "/api/orders/history/export", s.token, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(`attachment; filename="cafe-orders-2026-03-11.csv"`, rec.Header().Get("Content-Disposition"))
	s.True(strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	lines := strings.Split(rec.Body.String(), "\n")
	s.Require().Len(lines, 3)
	s.Equal("Order ID,Customer,Date,Status,Total,Payment Method,Items", lines[0])
	s.Equal("001,Guest,3/11/2026, 9:30:00 AM,Paid,4.50,cash,3x Tea", lines[2])

	rec = s.do(http.MethodDelete, "/api/orders/history", s.token, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"success":true,"deleted":2}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/orders", s.token, "")
	s.decode(rec, &list)
	s.Require().Len(list.Orders, 1)
	s.Equal("003", list.Orders[0].ID)
}

func (s *ServerTestSuite) TestStats() {
	s.createOrder(teaOrder)
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/orders/001/pay", s.token, `{"method":"upi"}`).Code)

	rec := s.do(http.MethodGet, "/api/stats?scale=week", s.token, "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var resp statsEnvelope
	s.decode(rec, &resp)
	s.Equal("week", string(resp.Stats.Scale))
	s.Len(resp.Stats.Series, 7)
	s.Equal(1, resp.Stats.Totals.TotalOrders)
	s.Equal("4.50", resp.Stats.Totals.TotalRevenue)
	s.Equal("4.50", resp.Stats.Totals.TodayRevenue)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/stats?scale=year", s.token, "").Code)
}

func (s *ServerTestSuite) TestRequestMetricsAndRequestID() {
	rec := s.do(http.MethodGet, "/api/orders", s.token, "", headerRequestID, "req-42")
	s.Equal("req-42", rec.Header().Get(headerRequestID))

	rec = s.do(http.MethodGet, "/api/orders", s.token, "")
	s.NotEmpty(rec.Header().Get(headerRequestID))

	s.Equal(1, testutil.CollectAndCount(s.metrics.RequestDuration))
}

func TestStatusFor(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"flags":    {errConflictingFlags, http.StatusBadRequest},
		"internal": {bytes.ErrTooLarge, http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, message := statusFor(tc.err)
			if status != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, status)
			}
			if status == http.StatusInternalServerError && message != messageInternal {
				t.Fatalf("internal error text leaked: %s", message)
			}
		})
	}
}
