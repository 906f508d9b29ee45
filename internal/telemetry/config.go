// Package telemetry sets up OpenTelemetry tracing and metrics export for
// docuchat.
//
// Telemetry is off by default. When enabled, spans and metrics are sent to
// an OTLP collector over gRPC or HTTP/protobuf, and the global providers
// are replaced so every package instrumented through otel.Tracer and
// otel.Meter reports through them. Exporter failures degrade the instance
// instead of failing startup.
package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrInvalidConfig indicates an unusable telemetry configuration.
var ErrInvalidConfig = errors.New("invalid telemetry config")

// Export protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	Protocol string `koanf:"protocol"`

	// Insecure disables TLS. Only allowed for local endpoints.
	Insecure bool `koanf:"insecure"`

	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`

	// SampleRate is the fraction of root spans kept, 0 to 1.
	SampleRate float64 `koanf:"sample_rate"`

	Metrics         MetricsConfig `koanf:"metrics"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// DefaultConfig returns disabled telemetry aimed at a local collector.
func DefaultConfig() Config {
	return Config{
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		Insecure:        true,
		ServiceName:     "docuchat",
		ServiceVersion:  "dev",
		SampleRate:      1,
		Metrics:         MetricsConfig{Enabled: true, Interval: 15 * time.Second},
		ShutdownTimeout: 5 * time.Second,
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.Protocol == "" {
		c.Protocol = d.Protocol
	}
	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = d.ServiceVersion
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = d.Metrics.Interval
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
}

// Validate checks the configuration. Disabled telemetry is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("%w: endpoint required", ErrInvalidConfig)
	case c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP:
		return fmt.Errorf("%w: protocol must be %s or %s, got %q", ErrInvalidConfig, ProtocolGRPC, ProtocolHTTP, c.Protocol)
	case c.ServiceName == "":
		return fmt.Errorf("%w: service_name required", ErrInvalidConfig)
	case c.Insecure && !isLocalEndpoint(c.Endpoint):
		return fmt.Errorf("%w: insecure export is only allowed to local endpoints, got %q", ErrInvalidConfig, c.Endpoint)
	case c.SampleRate < 0 || c.SampleRate > 1:
		return fmt.Errorf("%w: sample_rate must be between 0 and 1, got %v", ErrInvalidConfig, c.SampleRate)
	case c.Metrics.Enabled && c.Metrics.Interval <= 0:
		return fmt.Errorf("%w: metrics interval must be positive", ErrInvalidConfig)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
