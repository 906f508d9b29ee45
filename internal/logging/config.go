package logging

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ErrInvalidConfig indicates an unusable logging configuration.
var ErrInvalidConfig = errors.New("invalid logging config")

// TraceLevel sits below Debug for per-chunk and wire level detail.
const TraceLevel = zapcore.Level(-2)

// Config holds logging configuration.
type Config struct {
	// Level is trace, debug, info, warn or error.
	Level string `koanf:"level"`

	// Format is "console" or "json".
	Format string `koanf:"format"`

	Output    OutputConfig      `koanf:"output"`
	Sampling  SamplingConfig    `koanf:"sampling"`
	Caller    bool              `koanf:"caller"`
	Fields    map[string]string `koanf:"fields"`
	Redaction RedactionConfig   `koanf:"redaction"`
}

// OutputConfig controls where logs go.
type OutputConfig struct {
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig limits repeated entries below error level. Within each
// Tick the first Initial entries with the same message pass, then one in
// every Thereafter.
type SamplingConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Tick       time.Duration `koanf:"tick"`
	Initial    int           `koanf:"initial"`
	Thereafter int           `koanf:"thereafter"`
}

// RedactionConfig lists field names and value patterns to mask.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// DefaultConfig returns console logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: OutputConfig{Stderr: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Fields: map[string]string{"service": "docuchat"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`\bsk-[A-Za-z0-9_-]{20,}`,
			},
		},
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Sampling.Tick == 0 {
		c.Sampling.Tick = d.Sampling.Tick
	}
	if c.Sampling.Initial == 0 {
		c.Sampling.Initial = d.Sampling.Initial
	}
	if c.Sampling.Thereafter == 0 {
		c.Sampling.Thereafter = d.Sampling.Thereafter
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("%w: format must be json or console, got %q", ErrInvalidConfig, c.Format)
	}
	if !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("%w: enable at least one of stderr and otel output", ErrInvalidConfig)
	}
	if c.Sampling.Enabled && c.Sampling.Tick <= 0 {
		return fmt.Errorf("%w: sampling tick must be positive", ErrInvalidConfig)
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				return fmt.Errorf("%w: redaction pattern longer than %d", ErrInvalidConfig, maxPatternLen)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("%w: redaction pattern %q: %v", ErrInvalidConfig, p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("%w: constant field %q needs a key and a value", ErrInvalidConfig, k)
		}
	}
	return nil
}

// ParseLevel parses a level name, accepting "trace" in addition to the zap
// levels.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
