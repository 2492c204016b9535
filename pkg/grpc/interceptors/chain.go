package interceptors

import (
	"context"

	"google.golang.org/grpc"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// Chain collects server interceptors, outermost first.
type Chain struct {
	unary  []grpc.UnaryServerInterceptor
	stream []grpc.StreamServerInterceptor
}

// Use appends one interceptor in both its forms.
func (c *Chain) Use(u grpc.UnaryServerInterceptor, s grpc.StreamServerInterceptor) *Chain {
	c.unary = append(c.unary, u)
	c.stream = append(c.stream, s)
	return c
}

// Len returns the number of interceptors.
func (c *Chain) Len() int { return len(c.unary) }

// ServerOptions installs the chain; an empty chain installs nothing.
func (c *Chain) ServerOptions() []grpc.ServerOption {
	if c.Len() == 0 {
		return nil
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(c.unary...),
		grpc.ChainStreamInterceptor(c.stream...),
	}
}

// Standard builds the chain of the health server: tracing when traced is
// set, so spans cover everything below it, then recovery, request IDs,
// logging and, with a recorder, metrics.
func Standard(log logger.Logger, recorder MetricsRecorder, traced bool, tracing ...TracingOption) *Chain {
	c := &Chain{}
	if traced {
		c.Use(TracingUnaryInterceptor(tracing...), TracingStreamInterceptor(tracing...))
	}
	c.Use(RecoveryUnaryInterceptor(log), RecoveryStreamInterceptor(log)).
		Use(RequestIDUnaryInterceptor(), RequestIDStreamInterceptor()).
		Use(LoggingUnaryInterceptor(log), LoggingStreamInterceptor(log))
	if recorder != nil {
		c.Use(MetricsUnaryInterceptor(recorder), MetricsStreamInterceptor(recorder))
	}
	return c
}

// contextStream overrides the context of a server stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }
