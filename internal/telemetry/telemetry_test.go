package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestConfig_Validate(t *testing.T) {
	enabled := func(modify func(*Config)) Config {
		cfg := DefaultConfig()
		cfg.Enabled = true
		modify(&cfg)
		return cfg
	}
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled skips checks", cfg: Config{Protocol: "carrier-pigeon"}},
		{name: "local insecure", cfg: enabled(func(*Config) {})},
		{name: "http protocol", cfg: enabled(func(c *Config) { c.Protocol = ProtocolHTTP })},
		{name: "loopback ip", cfg: enabled(func(c *Config) { c.Endpoint = "127.0.0.5:4317" })},
		{name: "ipv6 loopback", cfg: enabled(func(c *Config) { c.Endpoint = "[::1]:4317" })},
		{name: "remote with tls", cfg: enabled(func(c *Config) {
			c.Endpoint = "otel.example.com:4317"
			c.Insecure = false
		})},
		{name: "remote insecure", cfg: enabled(func(c *Config) { c.Endpoint = "https://otel.example.com:4318" }), wantErr: true},
		{name: "no endpoint", cfg: enabled(func(c *Config) { c.Endpoint = "" }), wantErr: true},
		{name: "bad protocol", cfg: enabled(func(c *Config) { c.Protocol = "udp" }), wantErr: true},
		{name: "no service", cfg: enabled(func(c *Config) { c.ServiceName = "" }), wantErr: true},
		{name: "sample rate", cfg: enabled(func(c *Config) { c.SampleRate = 1.5 }), wantErr: true},
		{name: "metrics interval", cfg: enabled(func(c *Config) { c.Metrics.Interval = 0 }), wantErr: true},
		{name: "shutdown timeout", cfg: enabled(func(c *Config) { c.ShutdownTimeout = -time.Second }), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Enabled: true}
	cfg.ApplyDefaults()
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "docuchat", cfg.ServiceName)
	assert.Equal(t, 15*time.Second, cfg.Metrics.Interval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.False(t, tel.Degraded())
	assert.NotNil(t, tel.TracerProvider())
	assert.NotNil(t, tel.MeterProvider())
	assert.NotNil(t, tel.LoggerProvider())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true, Endpoint: "collector.example.com:4317", Insecure: true}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.False(t, tel.Enabled())
	assert.NotNil(t, tel.TracerProvider())
	assert.NotNil(t, tel.LoggerProvider())
	tel.SetLoggerProvider(nil)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestTestTelemetry_Records(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.TracerProvider().Tracer("test").Start(ctx, "collections.AddDocument")
	span.SetAttributes(attribute.String("collection", "reports"))
	span.End()

	counter, err := tt.MeterProvider().Meter("test").Int64Counter("docuchat.test.calls")
	require.NoError(t, err)
	counter.Add(ctx, 2, metric.WithAttributes(attribute.String("op", "add")))

	assert.Equal(t, []string{"collections.AddDocument"}, tt.SpanNames())
	assert.Equal(t, "reports", tt.SpanAttribute(t, "collections.AddDocument", "collection").AsString())
	assert.Nil(t, tt.Span("missing"))

	m, ok := tt.Metric(t, "docuchat.test.calls")
	require.True(t, ok)
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	assert.True(t, tt.Enabled())
	assert.NoError(t, tt.Shutdown(ctx))
}
