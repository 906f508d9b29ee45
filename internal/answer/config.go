package answer

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrInvalidConfig indicates an unusable LLM configuration.
var ErrInvalidConfig = errors.New("invalid llm config")

// Backend names an LLM provider.
type Backend string

const (
	// BackendOpenAI talks to the OpenAI chat API.
	BackendOpenAI Backend = "openai"
	// BackendLocal talks to an ollama-compatible server.
	BackendLocal Backend = "local"
)

// Defaults.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultLocalURL       = "http://localhost:11434"
	DefaultTemperature    = 0.3
	DefaultMaxTokens      = 500
	DefaultContextResults = 3
)

// Config configures the chat model.
type Config struct {
	Backend Backend `koanf:"backend"`

	// Model is required for the local backend; the openai backend defaults
	// to gpt-4o-mini.
	Model string `koanf:"model"`

	// BaseURL overrides the API endpoint.
	BaseURL string `koanf:"base_url"`

	// APIKey falls back to OPENAI_API_KEY for the openai backend.
	APIKey string `koanf:"api_key"`

	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`

	// ContextResults is how many chunks are retrieved per question.
	ContextResults int `koanf:"context_results"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendOpenAI
	}
	if c.Model == "" && c.Backend == BackendOpenAI {
		c.Model = DefaultOpenAIModel
	}
	if c.BaseURL == "" && c.Backend == BackendLocal {
		c.BaseURL = DefaultLocalURL
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.ContextResults <= 0 {
		c.ContextResults = DefaultContextResults
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendOpenAI, BackendLocal:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model is required for the %s backend", ErrInvalidConfig, c.Backend)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature %v out of range [0, 2]", ErrInvalidConfig, c.Temperature)
	}
	return nil
}

// NewModel builds the langchaingo model for cfg.
func NewModel(cfg Config) (llms.Model, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendLocal:
		m, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("%w: ollama client: %v", ErrInvalidConfig, err)
		}
		return m, nil
	default:
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: openai client: %v", ErrInvalidConfig, err)
		}
		return m, nil
	}
}
