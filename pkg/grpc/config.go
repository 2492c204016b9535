package grpc

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

// Health requests and replies are a few bytes; anything bigger is refused.
const defaultMaxMsgSize = 64 * 1024

// Config holds the settings of the gRPC health endpoint.
type Config struct {
	// Address is the listen address, ":9090" or "127.0.0.1:0".
	Address string

	// ProbeInterval is the period between two health probe rounds.
	// Zero uses the default.
	ProbeInterval time.Duration

	// EnableTracing wraps every RPC in a server span.
	EnableTracing bool

	// EnableReflection registers the reflection service.
	EnableReflection bool

	TLS *TLSConfig

	// MaxConnections caps concurrent streams per connection.
	MaxConnections int

	Keepalive *KeepaliveConfig

	MaxRecvMsgSize int
	MaxSendMsgSize int
}

// TLSConfig enables TLS, and mTLS when ClientAuth is set.
type TLSConfig struct {
	Enabled    bool
	CertFile   string
	KeyFile    string
	CAFile     string
	ClientAuth bool
}

// credentials loads the key pair and, with ClientAuth, the CA pool used
// to verify client certificates.
func (t *TLSConfig) credentials() (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if t.ClientAuth {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificate found in %s", t.CAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return credentials.NewTLS(cfg), nil
}

// KeepaliveConfig maps onto keepalive.ServerParameters and
// keepalive.EnforcementPolicy.
type KeepaliveConfig struct {
	MaxIdle     time.Duration
	MaxAge      time.Duration
	MaxAgeGrace time.Duration
	// Time is the server ping interval; Timeout must be shorter.
	Time    time.Duration
	Timeout time.Duration
	// MinTime is the shortest client ping interval tolerated.
	MinTime             time.Duration
	PermitWithoutStream bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Address:        ":9090",
		ProbeInterval:  5 * time.Second,
		MaxConnections: 100,
		MaxRecvMsgSize: defaultMaxMsgSize,
		MaxSendMsgSize: defaultMaxMsgSize,
		Keepalive: &KeepaliveConfig{
			MaxIdle:     5 * time.Minute,
			MaxAge:      time.Hour,
			MaxAgeGrace: time.Minute,
			Time:        time.Minute,
			Timeout:     20 * time.Second,
			MinTime:     30 * time.Second,
		},
	}
}

func nonNegative(name string, v int64) error {
	if v < 0 {
		return fmt.Errorf("%s cannot be negative", name)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Address == "" {
		err = multierr.Append(err, errors.New("address cannot be empty"))
	}
	err = multierr.Combine(err,
		nonNegative("probe interval", int64(c.ProbeInterval)),
		nonNegative("max connections", int64(c.MaxConnections)),
		nonNegative("max recv message size", int64(c.MaxRecvMsgSize)),
		nonNegative("max send message size", int64(c.MaxSendMsgSize)),
	)
	if c.TLS != nil {
		if tlsErr := c.TLS.Validate(); tlsErr != nil {
			err = multierr.Append(err, fmt.Errorf("tls: %w", tlsErr))
		}
	}
	if c.Keepalive != nil {
		if kaErr := c.Keepalive.Validate(); kaErr != nil {
			err = multierr.Append(err, fmt.Errorf("keepalive: %w", kaErr))
		}
	}
	return err
}

// Validate checks the files needed by an enabled TLS setup.
func (t *TLSConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	var err error
	if t.CertFile == "" {
		err = multierr.Append(err, errors.New("cert file is required"))
	}
	if t.KeyFile == "" {
		err = multierr.Append(err, errors.New("key file is required"))
	}
	if t.ClientAuth && t.CAFile == "" {
		err = multierr.Append(err, errors.New("CA file is required for client auth"))
	}
	return err
}

// Validate rejects negative durations and a timeout not shorter than the
// ping interval.
func (k *KeepaliveConfig) Validate() error {
	err := multierr.Combine(
		nonNegative("max idle", int64(k.MaxIdle)),
		nonNegative("max age", int64(k.MaxAge)),
		nonNegative("max age grace", int64(k.MaxAgeGrace)),
		nonNegative("time", int64(k.Time)),
		nonNegative("timeout", int64(k.Timeout)),
		nonNegative("min time", int64(k.MinTime)),
	)
	if k.Time > 0 && k.Timeout >= k.Time {
		err = multierr.Append(err, errors.New("timeout must be less than ping interval"))
	}
	return err
}

func (k *KeepaliveConfig) serverOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     k.MaxIdle,
			MaxConnectionAge:      k.MaxAge,
			MaxConnectionAgeGrace: k.MaxAgeGrace,
			Time:                  k.Time,
			Timeout:               k.Timeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             k.MinTime,
			PermitWithoutStream: k.PermitWithoutStream,
		}),
	}
}
