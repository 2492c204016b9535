// Package config loads, validates and watches the sightcore configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the root of the configuration tree. Keys are snake_case in
// files and SIGHT_ prefixed in the environment.
type Config struct {
	App      AppConfig      `mapstructure:"app" validate:"required"`
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Log      LogConfig      `mapstructure:"log" validate:"required"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Registry RegistryConfig `mapstructure:"registry"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type AppConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	Version string `mapstructure:"version"`
	// Environment is development, staging or production.
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`
	// Debug forces the debug log level.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig covers the introspection surfaces: the REST API with its
// event stream on Port and the gRPC health endpoint.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host" validate:"omitempty,hostname_rfc1123|ip"`
	Port    int    `mapstructure:"port" validate:"required,min=1,max=65535"`

	HTTP      HTTPConfig      `mapstructure:"http"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
}

type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Port 0 binds an ephemeral port.
	Port             int  `mapstructure:"port" validate:"min=0,max=65535"`
	EnableReflection bool `mapstructure:"enable_reflection"`
	EnableTracing    bool `mapstructure:"enable_tracing"`
	// ProbeInterval paces the health probes of the serving status.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	// MaxConnections caps concurrent streams per connection, 0 for the
	// library default.
	MaxConnections int           `mapstructure:"max_connections" validate:"min=0"`
	TLS            GRPCTLSConfig `mapstructure:"tls"`
}

// GRPCTLSConfig enables TLS, and mutual TLS when ClientAuth is set and
// CAFile names the bundle trusted for client certificates.
type GRPCTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth bool   `mapstructure:"client_auth"`
}

type HTTPConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout applies to API handlers, not to the event stream.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// CORSConfig is applied to the API routes. "*" in AllowedOrigins accepts
// any origin. MaxAge is in seconds.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// RateLimitConfig is a token bucket per client address, applied to
// snapshot creation.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`
	Burst             int     `mapstructure:"burst" validate:"min=0"`
}

type WebSocketConfig struct {
	// MaxClients 0 means unlimited.
	MaxClients   int           `mapstructure:"max_clients" validate:"min=0"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"min=1"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output"`
}

type WorkersConfig struct {
	// Names lists the workers created at startup in addition to the
	// default worker.
	Names       []string      `mapstructure:"names"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

type RegistryConfig struct {
	AsyncEvents bool `mapstructure:"async_events"`
	// EventWorker runs the registry observers that feed the event stream.
	EventWorker string `mapstructure:"event_worker" validate:"required"`
}

// StorageConfig selects where data snapshots are persisted.
type StorageConfig struct {
	Type   string       `mapstructure:"type" validate:"oneof=memory badger redis"`
	Badger BadgerConfig `mapstructure:"badger"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

type BadgerConfig struct {
	Path              string `mapstructure:"path"`
	InMemory          bool   `mapstructure:"in_memory"`
	SyncWrites        bool   `mapstructure:"sync_writes"`
	ValueLogFileSize  int64  `mapstructure:"value_log_file_size"`
	NumVersionsToKeep int    `mapstructure:"num_versions_to_keep"`
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
	// TTL 0 keeps snapshots forever.
	TTL time.Duration `mapstructure:"ttl"`
}

// MetricsConfig exposes Prometheus metrics on Path. When Port equals the
// API port the API server serves them.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter" validate:"oneof=otlp stdout"`
	// Endpoint is the OTLP collector, host:port or a URL.
	Endpoint string            `mapstructure:"endpoint"`
	Headers  map[string]string `mapstructure:"headers"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	// Sampler is always_on, always_off or ratio, which samples SampleRate
	// of the root traces.
	Sampler    string  `mapstructure:"sampler" validate:"oneof=always_on always_off ratio"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate checks the struct tags and the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// String summarizes the configuration for logs. Secrets are left out.
func (c *Config) String() string {
	return fmt.Sprintf("%s(%s) api=%s:%d storage=%s workers=%d",
		c.App.Name, c.App.Environment, c.Server.Host, c.Server.Port, c.Storage.Type, len(c.Workers.Names)+1)
}
