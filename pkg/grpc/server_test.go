package grpc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type rpcCount struct {
	calls atomic.Int32
	last  atomic.Value
}

func (r *rpcCount) RecordRPC(method, kind, code string, _ time.Duration) {
	r.calls.Add(1)
	r.last.Store(method + " " + kind + " " + code)
}

func dialHealth(t *testing.T, srv *Server) grpc_health_v1.HealthClient {
	t.Helper()
	conn, err := ggrpc.NewClient(srv.Address(), ggrpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return grpc_health_v1.NewHealthClient(conn)
}

func stopServer(t *testing.T, srv *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}

func healthStatus(ctx context.Context, c grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	resp, err := c.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Address = ""
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.ProbeInterval = -time.Second
	_, err = New(cfg, nil)
	assert.Error(t, err)

	h := NewHealthServer(nil)
	srv, err := New(DefaultConfig(), nil, WithHealthServer(h))
	require.NoError(t, err)
	assert.Same(t, h, srv.Health())
	assert.False(t, srv.IsRunning())
	assert.Equal(t, ":9090", srv.Address())
}

func TestServer_ProbesDriveHealth(t *testing.T) {
	var storageDown atomic.Bool
	recorder := &rpcCount{}

	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.ProbeInterval = 20 * time.Millisecond

	srv, err := New(cfg, nil, WithMetrics(recorder))
	require.NoError(t, err)
	srv.Health().AddProbe("sight.registry", func(context.Context) error { return nil })
	srv.Health().AddProbe("sight.storage", func(context.Context) error {
		if storageDown.Load() {
			return errors.New("storage unreachable")
		}
		return nil
	})
	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Start(), ErrAlreadyRunning)

	client := dialHealth(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serving := grpc_health_v1.HealthCheckResponse_SERVING
	notServing := grpc_health_v1.HealthCheckResponse_NOT_SERVING

	assert.Eventually(t, func() bool { return healthStatus(ctx, client, "") == serving }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, serving, healthStatus(ctx, client, "sight.storage"))

	storageDown.Store(true)
	assert.Eventually(t, func() bool { return healthStatus(ctx, client, "") == notServing }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, notServing, healthStatus(ctx, client, "sight.storage"))
	assert.Equal(t, serving, healthStatus(ctx, client, "sight.registry"))

	_, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "sight.unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	assert.Positive(t, recorder.calls.Load())
	assert.Equal(t, "/grpc.health.v1.Health/Check unary NotFound", recorder.last.Load())

	stopServer(t, srv)
	assert.False(t, srv.IsRunning())
	require.NoError(t, srv.Stop(context.Background()))
}

func TestHealthServer_Check(t *testing.T) {
	h := NewHealthServer(nil)
	assert.True(t, h.Check(context.Background()))

	h.AddProbe("b", func(context.Context) error { return nil })
	h.AddProbe("a", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return errors.New("probe without deadline")
		}
		return nil
	})
	assert.Equal(t, []string{"a", "b"}, h.Services())
	assert.True(t, h.Check(context.Background()))

	h.AddProbe("c", func(context.Context) error { return errors.New("down") })
	assert.False(t, h.Check(context.Background()))

	resp, err := h.GetServer().Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "c"})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	h.Shutdown()
	resp, err = h.GetServer().Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "a"})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	h.Resume()
	resp, err = h.GetServer().Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "a"})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestHealthServer_RunStopsWithContext(t *testing.T) {
	h := NewHealthServer(nil)
	var rounds atomic.Int32
	h.AddProbe("x", func(context.Context) error {
		rounds.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return rounds.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
