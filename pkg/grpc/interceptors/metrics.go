package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RPC kinds reported to the recorder.
const (
	KindUnary  = "unary"
	KindStream = "stream"
)

// MetricsRecorder receives one observation per finished RPC, labelled with
// the gRPC status code name.
type MetricsRecorder interface {
	RecordRPC(method, kind, code string, duration time.Duration)
}

func observe(rec MetricsRecorder, method, kind string, start time.Time, err error) {
	rec.RecordRPC(method, kind, status.Code(err).String(), time.Since(start))
}

// MetricsUnaryInterceptor records every unary RPC.
func MetricsUnaryInterceptor(rec MetricsRecorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(rec, info.FullMethod, KindUnary, start, err)
		return resp, err
	}
}

// MetricsStreamInterceptor records every streaming RPC.
func MetricsStreamInterceptor(rec MetricsRecorder) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(rec, info.FullMethod, KindStream, start, err)
		return err
	}
}
