package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// logRPC logs a finished call at a level derived from its status code.
func logRPC(ctx context.Context, log logger.Logger, method string, err error, duration time.Duration, args ...any) {
	code := status.Code(err)
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = "unknown"
	}
	args = append([]any{
		"method", method,
		"code", code.String(),
		"duration", duration,
		"request_id", requestID,
	}, args...)

	switch code {
	case codes.OK:
		log.DebugContext(ctx, "RPC completed", args...)
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		log.ErrorContext(ctx, "RPC failed", append(args, "error", err)...)
	default:
		log.WarnContext(ctx, "RPC rejected", append(args, "error", err)...)
	}
}

// LoggingUnaryInterceptor logs every unary RPC once it returned.
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	log = logger.OrComponent(log, "grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(ctx, log, info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

// LoggingStreamInterceptor logs every stream once it ended.
func LoggingStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	log = logger.OrComponent(log, "grpc")
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(ss.Context(), log, info.FullMethod, err, time.Since(start),
			"client_stream", info.IsClientStream,
			"server_stream", info.IsServerStream,
		)
		return err
	}
}
