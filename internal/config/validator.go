package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError is a single invalid configuration value.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// validator accumulates errors while walking a Config.
type validator struct {
	errors ValidationErrors
}

func (v *validator) addError(path, format string, args ...interface{}) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks cfg and returns ValidationErrors when anything is wrong.
func Validate(cfg *Config) error {
	if cfg == nil {
		return ValidationErrors{{Message: "configuration is nil"}}
	}

	v := &validator{}
	v.validateServer(&cfg.Server)
	v.validateCertificates(&cfg.Certificates)
	v.validateRateLimit(&cfg.RateLimit)
	v.validateAdmin(&cfg.Admin)
	v.validateLogging(&cfg.Logging)
	v.validateTracing(&cfg.Tracing)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *validator) validateServer(s *ServerConfig) {
	v.validateAddress("server.address", s.Address)
	if s.GracefulStopTimeout < 0 {
		v.addError("server.gracefulStopTimeout", "must not be negative")
	}
}

func (v *validator) validateCertificates(c *CertificatesConfig) {
	u, err := url.Parse(c.URL)
	switch {
	case c.URL == "":
		v.addError("certificates.url", "is required")
	case err != nil:
		v.addError("certificates.url", "invalid URL: %v", err)
	case u.Scheme != "https" && u.Scheme != "http":
		v.addError("certificates.url", "scheme must be http or https, got %q", u.Scheme)
	case u.Host == "":
		v.addError("certificates.url", "host is required")
	}

	if c.RefreshInterval <= 0 {
		v.addError("certificates.refreshInterval", "must be positive")
	}
	if c.FetchTimeout <= 0 {
		v.addError("certificates.fetchTimeout", "must be positive")
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold == 0 {
			v.addError("certificates.circuitBreaker.failureThreshold", "must be at least 1")
		}
		if c.CircuitBreaker.OpenTimeout <= 0 {
			v.addError("certificates.circuitBreaker.openTimeout", "must be positive")
		}
	}

	if c.Redis.Enabled {
		if _, err := url.Parse(c.Redis.URL); err != nil || !strings.HasPrefix(c.Redis.URL, "redis") {
			v.addError("certificates.redis.url", "must be a redis:// or rediss:// URL")
		}
	}
}

func (v *validator) validateRateLimit(r *RateLimitConfig) {
	if !r.Enabled {
		return
	}
	if r.RequestsPerSecond <= 0 {
		v.addError("rateLimit.requestsPerSecond", "must be positive")
	}
	if r.Burst <= 0 {
		v.addError("rateLimit.burst", "must be positive")
	}
}

func (v *validator) validateAdmin(a *AdminConfig) {
	if a.Enabled {
		v.validateAddress("admin.address", a.Address)
	}
}

func (v *validator) validateLogging(l *LoggingConfig) {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", "unknown level %q", l.Level)
	}
	switch l.Format {
	case "", "json", "console":
	default:
		v.addError("logging.format", "must be json or console, got %q", l.Format)
	}
}

func (v *validator) validateTracing(t *TracingConfig) {
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "must be between 0 and 1")
	}
	if t.Enabled && t.OTLPEndpoint == "" {
		v.addError("tracing.otlpEndpoint", "is required when tracing is enabled")
	}
}

func (v *validator) validateAddress(path, addr string) {
	if addr == "" {
		v.addError(path, "is required")
		return
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		v.addError(path, "invalid host:port %q", addr)
	}
}
