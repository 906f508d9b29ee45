package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type secret string

func (s secret) Value() string { return string(s) }

func jsonConfig() Config {
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Sampling.Enabled = false
	return cfg
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "trace level", modify: func(c *Config) { c.Level = "TRACE" }},
		{name: "bad level", modify: func(c *Config) { c.Level = "loud" }, wantErr: true},
		{name: "bad format", modify: func(c *Config) { c.Format = "xml" }, wantErr: true},
		{name: "no output", modify: func(c *Config) { c.Output = OutputConfig{} }, wantErr: true},
		{name: "zero tick", modify: func(c *Config) { c.Sampling.Tick = 0 }, wantErr: true},
		{name: "bad pattern", modify: func(c *Config) { c.Redaction.Patterns = []string{"("} }, wantErr: true},
		{name: "long pattern", modify: func(c *Config) { c.Redaction.Patterns = []string{strings.Repeat("a", 201)} }, wantErr: true},
		{name: "bad pattern ignored when disabled", modify: func(c *Config) {
			c.Redaction.Enabled = false
			c.Redaction.Patterns = []string{"("}
		}},
		{name: "empty field value", modify: func(c *Config) { c.Fields = map[string]string{"env": ""} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, time.Second, cfg.Sampling.Tick)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"trace": TraceLevel,
		"debug": zapcore.DebugLevel,
		"Info":  zapcore.InfoLevel,
		" warn": zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger_JSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(jsonConfig(), nil, &buf)
	require.NoError(t, err)

	logger.Info("collection created", zap.String("collection", "reports"))
	logger.Debug("dropped at info level")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "collection created", lines[0]["msg"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "reports", lines[0]["collection"])
	assert.Equal(t, "docuchat", lines[0]["service"])
}

func TestNewLogger_TraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	cfg := jsonConfig()
	cfg.Level = "trace"
	logger, err := newLogger(cfg, nil, &buf)
	require.NoError(t, err)

	logger.Log(TraceLevel, "chunk embedded")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestNewLogger_NoUsableOutput(t *testing.T) {
	cfg := jsonConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err := newLogger(cfg, nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewLogger_Redacts(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(jsonConfig(), nil, &buf)
	require.NoError(t, err)

	logger.With(zap.String("api_key", "abc123")).Info("calling openai",
		zap.String("authorization", "Bearer xyz"),
		zap.String("header", "Bearer xyz"),
		zap.String("note", "key sk-abcdefghijklmnopqrstuvwx in text"),
		Secret("llm_key", secret("sk-live")),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED]", lines[0]["authorization"])
	assert.Equal(t, "[REDACTED]", lines[0]["header"])
	assert.Equal(t, "key [REDACTED] in text", lines[0]["note"])
	assert.Equal(t, "[REDACTED:7]", lines[0]["llm_key"])
	assert.NotContains(t, buf.String(), "abc123")
}

func TestNewRedactingEncoder_Errors(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	_, err := NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{"["}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	enc, err := NewRedactingEncoder(base, RedactionConfig{Patterns: []string{"["}})
	require.NoError(t, err)
	assert.Empty(t, enc.patterns)
}

func TestSampling_ErrorsNeverDropped(t *testing.T) {
	var buf bytes.Buffer
	cfg := jsonConfig()
	cfg.Sampling = SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 2, Thereafter: 1000}
	logger, err := newLogger(cfg, nil, &buf)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		logger.Info("repeated")
		logger.Error("failure")
	}

	var infos, errs int
	for _, l := range decodeLines(t, &buf) {
		switch l["level"] {
		case "info":
			infos++
		case "error":
			errs++
		}
	}
	assert.Equal(t, 2, infos)
	assert.Equal(t, 10, errs)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithRequestID(ctx, strings.Repeat("r", 200))
	ctx = WithCollection(ctx, "reports")
	ctx = WithCollection(ctx, "")

	got := map[string]string{}
	for _, f := range ContextFields(ctx) {
		got[f.Key] = f.String
	}
	assert.Equal(t, map[string]string{
		"trace_id":   "4bf92f3577b34da6a3ce929d0e0e4736",
		"span_id":    "00f067aa0ba902b7",
		"request_id": strings.Repeat("r", maxIDLen),
		"collection": "reports",
	}, got)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	ctx = WithRequestID(ctx, "req-1")
	FromContext(ctx).Info("served")

	tl.AssertLogged(t, zapcore.InfoLevel, "served")
	tl.AssertField(t, "served", "request_id", "req-1")
}
