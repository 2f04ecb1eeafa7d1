package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/history"
	"github.com/vladislavdragonenkov/pos/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pos/internal/service/orders"
	"github.com/vladislavdragonenkov/pos/internal/service/stats"
	"github.com/vladislavdragonenkov/pos/internal/transport/wire"
)

// Server реализует pos.v1.OrderService поверх сервиса заказов.
type Server struct {
	orders *orders.Service
	guard  *idempotency.Guard
	logger *log.Entry
}

var _ OrderServiceServer = (*Server)(nil)

// Option настраивает Server.
type Option func(*Server)

// WithIdempotency включает обработку metadata idempotency-key в CreateOrder.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(s *Server) { s.guard = guard }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer создаёт gRPC-реализацию сервиса.
func NewServer(svc *orders.Service, opts ...Option) *Server {
	s := &Server{
		orders: svc,
		logger: log.WithField("component", "grpc-api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type orderResponse struct {
	Order wire.Order `json:"order"`
}

type listResponse struct {
	Orders []wire.Order `json:"orders"`
}

type clearResponse struct {
	Deleted int `json:"deleted"`
}

type exportResponse struct {
	Filename string `json:"filename"`
	CSV      string `json:"csv"`
}

type statsResponse struct {
	Stats wire.Stats `json:"stats"`
}

type storedError struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// CreateOrder создаёт заказ. Повтор с тем же idempotency-key получает сохранённый ответ.
func (s *Server) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner := OwnerFromContext(ctx)
	key := idempotency.NormalizeKey(incomingValue(ctx, metadataIdempotencyKey))
	if key == "" || s.guard == nil {
		return s.createOrder(ctx, owner, req)
	}

	raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}
	scopedKey := owner + ":" + key
	stored, replay, err := s.guard.Begin(scopedKey, idempotency.HashRequest([]byte(owner), []byte(FullMethod(MethodCreateOrder)), raw))
	if err != nil {
		return nil, s.fail(MethodCreateOrder, err)
	}
	if replay {
		return replayResponse(stored)
	}

	resp, runErr := s.createOrder(ctx, owner, req)
	s.guard.Complete(scopedKey, storeResponse(resp, runErr))
	return resp, runErr
}

func (s *Server) createOrder(ctx context.Context, owner string, req *structpb.Struct) (*structpb.Struct, error) {
	var in wire.CreateOrderRequest
	if err := decode(req, &in); err != nil {
		return nil, s.fail(MethodCreateOrder, err)
	}
	order, err := s.orders.Create(ctx, owner, in.CustomerName, wire.ToItems(in.Items))
	if err != nil {
		return nil, s.fail(MethodCreateOrder, err)
	}
	return encode(orderResponse{Order: wire.FromOrder(order)})
}

// EditOrder заменяет позиции активного заказа.
func (s *Server) EditOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in wire.EditOrderRequest
	if err := decode(req, &in); err != nil {
		return nil, s.fail(MethodEditOrder, err)
	}
	order, err := s.orders.Edit(ctx, OwnerFromContext(ctx), in.ID, wire.ToItems(in.Items))
	if err != nil {
		return nil, s.fail(MethodEditOrder, err)
	}
	return encode(orderResponse{Order: wire.FromOrder(order)})
}

// PayOrder переводит заказ в оплаченные.
func (s *Server) PayOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in wire.PayOrderRequest
	if err := decode(req, &in); err != nil {
		return nil, s.fail(MethodPayOrder, err)
	}
	method, err := domain.ParsePaymentMethod(in.Method)
	if err != nil {
		return nil, s.fail(MethodPayOrder, err)
	}
	order, err := s.orders.MarkPaid(ctx, OwnerFromContext(ctx), in.ID, method)
	if err != nil {
		return nil, s.fail(MethodPayOrder, err)
	}
	return encode(orderResponse{Order: wire.FromOrder(order)})
}

// CancelOrder отменяет активный заказ.
func (s *Server) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in wire.OrderRef
	if err := decode(req, &in); err != nil {
		return nil, s.fail(MethodCancelOrder, err)
	}
	order, err := s.orders.Cancel(ctx, OwnerFromContext(ctx), in.ID)
	if err != nil {
		return nil, s.fail(MethodCancelOrder, err)
	}
	return encode(orderResponse{Order: wire.FromOrder(order)})
}

// GetOrder возвращает заказ по ID.
func (s *Server) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in wire.OrderRef
	if err := decode(req, &in); err != nil {
		return nil, s.fail(MethodGetOrder, err)
	}
	order, err := s.orders.Get(ctx, OwnerFromContext(ctx), in.ID)
	if err != nil {
		return nil, s.fail(MethodGetOrder, err)
	}
	return encode(orderResponse{Order: wire.FromOrder(order)})
}

// ListActiveOrders возвращает активные заказы.
func (s *Server) ListActiveOrders(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	active, err := s.orders.ListActive(ctx, OwnerFromContext(ctx))
	if err != nil {
		return nil, s.fail(MethodListActiveOrders, err)
	}
	return encode(listResponse{Orders: wire.FromOrders(active)})
}

// ListHistory возвращает историю за период.
func (s *Server) ListHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.parseRange(req)
	if err != nil {
		return nil, s.fail(MethodListHistory, err)
	}
	past, err := s.orders.History(ctx, OwnerFromContext(ctx), r)
	if err != nil {
		return nil, s.fail(MethodListHistory, err)
	}
	return encode(listResponse{Orders: wire.FromOrders(past)})
}

// ClearHistory удаляет историю владельца.
func (s *Server) ClearHistory(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	deleted, err := s.orders.ClearHistory(ctx, OwnerFromContext(ctx))
	if err != nil {
		return nil, s.fail(MethodClearHistory, err)
	}
	return encode(clearResponse{Deleted: deleted})
}

// ExportHistory возвращает CSV-выгрузку истории и имя файла.
func (s *Server) ExportHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.parseRange(req)
	if err != nil {
		return nil, s.fail(MethodExportHistory, err)
	}
	filename, csv, err := s.orders.ExportHistory(ctx, OwnerFromContext(ctx), r)
	if err != nil {
		return nil, s.fail(MethodExportHistory, err)
	}
	return encode(exportResponse{Filename: filename, CSV: csv})
}

// GetStats возвращает статистику в заданном масштабе.
func (s *Server) GetStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in wire.StatsRequest
	if err := decode(req, &in); err != nil {
		return nil, s.fail(MethodGetStats, err)
	}
	scale, err := stats.ParseScale(in.Scale)
	if err != nil {
		return nil, s.fail(MethodGetStats, err)
	}
	report, err := s.orders.Stats(ctx, OwnerFromContext(ctx), scale)
	if err != nil {
		return nil, s.fail(MethodGetStats, err)
	}
	return encode(statsResponse{Stats: wire.FromStats(report)})
}

func (s *Server) parseRange(req *structpb.Struct) (history.Range, error) {
	var in wire.RangeRequest
	if err := decode(req, &in); err != nil {
		return history.Range{}, err
	}
	return history.ParseRange(in.StartDate, in.EndDate, s.orders.Location())
}

// fail логирует внутренние ошибки до того, как их текст будет скрыт.
func (s *Server) fail(method string, err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		s.logger.WithError(err).WithField("method", method).Error("order operation failed")
	}
	return st
}

func decode(req *structpb.Struct, dst any) error {
	if req == nil {
		return nil
	}
	raw, err := protojson.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: malformed request: %v", domain.ErrValidation, err)
	}
	return wire.Decode(raw, dst)
}

func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, messageInternal)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, messageInternal)
	}
	return out, nil
}

func storeResponse(resp *structpb.Struct, err error) idempotency.Response {
	if err != nil {
		st := status.Convert(err)
		body, _ := json.Marshal(storedError{Code: int32(st.Code()), Message: st.Message()}) //nolint:gosec // codes.Code is a bounded enum value.
		return idempotency.Response{Status: httpStatusFromCode(st.Code()), Body: body}
	}
	body, marshalErr := protojson.Marshal(resp)
	if marshalErr != nil {
		body = []byte("{}")
	}
	return idempotency.Response{Status: httpStatusFromCode(codes.OK), Body: body}
}

func replayResponse(stored idempotency.Response) (*structpb.Struct, error) {
	if stored.Status != httpStatusFromCode(codes.OK) {
		var payload storedError
		if err := json.Unmarshal(stored.Body, &payload); err != nil || payload.Code <= 0 || payload.Code > int32(codes.Unauthenticated) {
			return nil, status.Error(codes.Internal, "previous request with the same idempotency key failed")
		}
		return nil, status.Error(codes.Code(uint32(payload.Code)), payload.Message)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(stored.Body, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to decode stored response")
	}
	return out, nil
}
