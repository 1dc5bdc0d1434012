package handler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-sales-approvals/internal/platform/metrics"
)

// UnaryServerInterceptors returns the interceptor chain installed on the gRPC
// server: panic recovery innermost, then logging and metrics.
func UnaryServerInterceptors(log zerolog.Logger, m *metrics.Metrics) []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		unaryLogging(log, m),
		unaryRecovery(log),
	}
}

func unaryLogging(log zerolog.Logger, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		if m != nil {
			m.GRPCRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
		}

		event := log.Debug()
		if code == codes.Internal || code == codes.Unknown {
			event = log.Error().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

func unaryRecovery(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Str("method", info.FullMethod).
					Bytes("stack", debug.Stack()).
					Msg("gRPC handler panicked")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
