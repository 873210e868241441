package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/identity"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type credentialKey struct{}

func credentialFromContext(ctx context.Context) string {
	s, _ := ctx.Value(credentialKey{}).(string)
	return s
}

// UnaryAuthInterceptor переносит токен и trace id из метаданных в контекст.
// Отсутствие токена не ошибка: такой вызов уйдет на ханипот, как и в HTTP.
func UnaryAuthInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.With(zap.String("mod", "grpc"))
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var token, traceID string

		// В gRPC заголовки в нижнем регистре
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				token = identity.BearerToken(v[0])
			}
			if v := md.Get("x-trace-id"); len(v) > 0 {
				traceID = v[0]
			}
		}
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = uuid.New().String()
		}

		ctx = domain.WithTraceID(ctx, traceID)
		ctx = context.WithValue(ctx, credentialKey{}, token)

		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.Bool("token", token != ""),
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return resp, err
	}
}
