package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/example/expense-ledger/internal/auth"
	"github.com/example/expense-ledger/internal/security"
)

const (
	authorizationKey = "authorization"
	correlationKey   = "x-correlation-id"
)

// UnaryAuthInterceptor resolves the bearer token in the authorization
// metadata and stores the identity on the context.
func UnaryAuthInterceptor(v *auth.Validator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		vals := md.Get(authorizationKey)
		if len(vals) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		tok, ok := auth.BearerToken(vals[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		id, err := v.Validate(tok)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(auth.WithIdentity(ctx, id), req)
	}
}

// UnaryLoggingInterceptor tags the call with a correlation id and logs it
// with its status code and duration.
func UnaryLoggingInterceptor(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var cid string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(correlationKey); len(vals) > 0 {
				cid = vals[0]
			}
		}
		ctx = security.WithCorrelationID(ctx, security.NormalizeCorrelationID(cid))
		_ = grpc.SetHeader(ctx, metadata.Pairs(correlationKey, security.CorrelationIDFromContext(ctx)))

		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		}
		l.Log(ctx, level, "grpc_request",
			security.CorrelationAttr(ctx),
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}
