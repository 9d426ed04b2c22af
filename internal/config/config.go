package config

import (
	"time"

	"github.com/vyrodovalexey/tokengate/internal/certs"
)

// Config is the complete tokengate configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" json:"server"`
	Certificates CertificatesConfig `yaml:"certificates" json:"certificates"`
	RateLimit    RateLimitConfig    `yaml:"rateLimit" json:"rateLimit"`
	Admin        AdminConfig        `yaml:"admin" json:"admin"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
	Tracing      TracingConfig      `yaml:"tracing" json:"tracing"`
}

// ServerConfig configures the gRPC listener.
type ServerConfig struct {
	Address             string   `yaml:"address" json:"address"`
	Reflection          bool     `yaml:"reflection" json:"reflection"`
	HealthCheck         bool     `yaml:"healthCheck" json:"healthCheck"`
	GracefulStopTimeout Duration `yaml:"gracefulStopTimeout,omitempty" json:"gracefulStopTimeout,omitempty"`
}

// CertificatesConfig configures where signing certificates come from and how
// long they are trusted.
type CertificatesConfig struct {
	URL             string               `yaml:"url" json:"url"`
	RefreshInterval Duration             `yaml:"refreshInterval" json:"refreshInterval"`
	FetchTimeout    Duration             `yaml:"fetchTimeout" json:"fetchTimeout"`
	SingleFlight    bool                 `yaml:"singleFlight" json:"singleFlight"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Redis           RedisConfig          `yaml:"redis" json:"redis"`
}

// CircuitBreakerConfig configures the breaker around certificate fetches.
// It is off by default: while it is open, calls with an expired set fail
// without contacting the provider.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	FailureThreshold uint32   `yaml:"failureThreshold" json:"failureThreshold"`
	OpenTimeout      Duration `yaml:"openTimeout" json:"openTimeout"`
}

// RedisConfig configures the shared certificate document cache.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
	Key     string `yaml:"key,omitempty" json:"key,omitempty"`
}

// RateLimitConfig configures the call rate limiter.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int     `yaml:"burst" json:"burst"`
	PerClient         bool    `yaml:"perClient" json:"perClient"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// Default values.
const (
	DefaultServerAddress       = "0.0.0.0:50051"
	DefaultAdminAddress        = ":9091"
	DefaultGracefulStopTimeout = 30 * time.Second
	DefaultFailureThreshold    = 5
	DefaultOpenTimeout         = 30 * time.Second
	DefaultRedisURL            = "redis://localhost:6379/0"
	DefaultRequestsPerSecond   = 100
	DefaultBurst               = 200
	DefaultServiceName         = "tokengate"
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:             DefaultServerAddress,
			Reflection:          true,
			HealthCheck:         true,
			GracefulStopTimeout: Duration(DefaultGracefulStopTimeout),
		},
		Certificates: CertificatesConfig{
			URL:             certs.DefaultURL,
			RefreshInterval: Duration(certs.DefaultRefreshInterval),
			FetchTimeout:    Duration(certs.DefaultFetchTimeout),
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				FailureThreshold: DefaultFailureThreshold,
				OpenTimeout:      Duration(DefaultOpenTimeout),
			},
			Redis: RedisConfig{
				URL: DefaultRedisURL,
				Key: certs.DefaultCacheKey,
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: DefaultAdminAddress,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName:  DefaultServiceName,
			SamplingRate: 1.0,
		},
	}
}
