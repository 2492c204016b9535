package interceptors

import (
	"context"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// errInternal is what the caller sees after a handler panic. The panic
// value stays in the server log.
var errInternal = status.Error(codes.Internal, "internal server error")

// recoverRPC must be deferred directly by the interceptor.
func recoverRPC(ctx context.Context, log logger.Logger, method string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	log.ErrorContext(ctx, "Panic recovered", "method", method, "panic", r, "stack", string(debug.Stack()))
	*err = errInternal
}

// RecoveryUnaryInterceptor turns a handler panic into codes.Internal.
func RecoveryUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	log = logger.OrComponent(log, "grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer recoverRPC(ctx, log, info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor is RecoveryUnaryInterceptor for streams.
func RecoveryStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	log = logger.OrComponent(log, "grpc")
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer recoverRPC(ss.Context(), log, info.FullMethod, &err)
		return handler(srv, ss)
	}
}
