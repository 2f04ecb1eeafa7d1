// Package grpcapi предоставляет gRPC API кассы. Сообщения передаются как google.protobuf.Struct
// с тем же JSON-представлением, что и REST.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "pos.v1.OrderService"

const (
	MethodCreateOrder      = "CreateOrder"
	MethodEditOrder        = "EditOrder"
	MethodPayOrder         = "PayOrder"
	MethodCancelOrder      = "CancelOrder"
	MethodGetOrder         = "GetOrder"
	MethodListActiveOrders = "ListActiveOrders"
	MethodListHistory      = "ListHistory"
	MethodClearHistory     = "ClearHistory"
	MethodExportHistory    = "ExportHistory"
	MethodGetStats         = "GetStats"
)

// FullMethod возвращает путь метода вида /pos.v1.OrderService/CreateOrder.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// OrderServiceServer — серверная часть pos.v1.OrderService.
type OrderServiceServer interface {
	CreateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EditOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PayOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListActiveOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(OrderServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc описывает pos.v1.OrderService для grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodCreateOrder, OrderServiceServer.CreateOrder),
		unaryHandler(MethodEditOrder, OrderServiceServer.EditOrder),
		unaryHandler(MethodPayOrder, OrderServiceServer.PayOrder),
		unaryHandler(MethodCancelOrder, OrderServiceServer.CancelOrder),
		unaryHandler(MethodGetOrder, OrderServiceServer.GetOrder),
		unaryHandler(MethodListActiveOrders, OrderServiceServer.ListActiveOrders),
		unaryHandler(MethodListHistory, OrderServiceServer.ListHistory),
		unaryHandler(MethodClearHistory, OrderServiceServer.ClearHistory),
		unaryHandler(MethodExportHistory, OrderServiceServer.ExportHistory),
		unaryHandler(MethodGetStats, OrderServiceServer.GetStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pos/v1/order_service.proto",
}

// RegisterOrderServiceServer регистрирует реализацию на сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client вызывает pos.v1.OrderService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient создаёт клиента поверх соединения.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call выполняет унарный вызов метода. Пустой запрос заменяется пустым Struct.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
