package config

import "time"

// DefaultConfig is the configuration used when no file is given: in-memory
// snapshots, the API on loopback and tracing off.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sightcore",
			Version:     "dev",
			Environment: "development",
		},
		Server:   defaultServer(),
		Log:      LogConfig{Level: "info", Format: "json", Output: "stdout"},
		Workers:  WorkersConfig{Names: []string{}, StopTimeout: 5 * time.Second},
		Registry: RegistryConfig{EventWorker: "registry-events"},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/snapshots",
				SyncWrites:        true,
				ValueLogFileSize:  64 << 20,
				NumVersionsToKeep: 1,
			},
			Redis: RedisConfig{Address: "localhost:6379", KeyPrefix: "sight:snapshot:"},
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics", Port: 9091},
		Tracing: TracingConfig{
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}

func defaultServer() ServerConfig {
	return ServerConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    8080,
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  15 * time.Second,
			MaxHeaderBytes:  1 << 20,
		},
		// Origins only matter once CORS is switched on.
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			MaxAge:         300,
		},
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerSecond: 5, Burst: 10},
		WebSocket: WebSocketConfig{
			MaxClients:   64,
			SendBuffer:   256,
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
		},
		GRPC: GRPCConfig{Port: 9090, ProbeInterval: 5 * time.Second, MaxConnections: 100},
	}
}
