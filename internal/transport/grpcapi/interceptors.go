package grpcapi

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	metadataAuthorization  = "authorization"
	metadataIdempotencyKey = "idempotency-key"
)

type ownerKey struct{}

// OwnerFromContext возвращает владельца, определённого AuthInterceptor.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

func withOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// AuthInterceptor определяет владельца по metadata authorization.
// Вызовы других сервисов (health, reflection) пропускаются без проверки.
func AuthInterceptor(resolver domain.IdentityResolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		owner, err := resolver.Resolve(ctx, incomingValue(ctx, metadataAuthorization))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, domain.ErrUnauthorized.Error())
		}
		return handler(withOwner(ctx, owner), req)
	}
}

// LoggingInterceptor пишет в лог каждый вызов с кодом ответа и длительностью.
func LoggingInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = log.WithField("component", "grpc-api")
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		entry := logger.WithFields(log.Fields{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		switch code {
		case codes.OK:
			entry.Debug("grpc call served")
		case codes.Internal, codes.Unknown:
			entry.WithError(err).Error("grpc call failed")
		default:
			entry.Info("grpc call rejected")
		}
		return resp, err
	}
}

func incomingValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
