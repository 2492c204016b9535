package config

import (
	"net"
	"strconv"

	grpcpkg "github.com/IRCAD/sight-sub083/pkg/grpc"
)

// ToGRPCConfig converts the gRPC section to a pkg/grpc.Config bound to host.
// Keepalive and message sizes keep the pkg/grpc defaults.
func (g *GRPCConfig) ToGRPCConfig(host string) *grpcpkg.Config {
	cfg := grpcpkg.DefaultConfig()
	cfg.Address = net.JoinHostPort(host, strconv.Itoa(g.Port))
	cfg.EnableReflection = g.EnableReflection
	cfg.EnableTracing = g.EnableTracing
	if g.ProbeInterval > 0 {
		cfg.ProbeInterval = g.ProbeInterval
	}
	if g.MaxConnections > 0 {
		cfg.MaxConnections = g.MaxConnections
	}

	if g.TLS.Enabled {
		cfg.TLS = &grpcpkg.TLSConfig{
			Enabled:    g.TLS.Enabled,
			CertFile:   g.TLS.CertFile,
			KeyFile:    g.TLS.KeyFile,
			CAFile:     g.TLS.CAFile,
			ClientAuth: g.TLS.ClientAuth,
		}
	}

	return cfg
}
