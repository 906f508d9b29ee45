package embeddings

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
	"go.uber.org/zap"
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Provider names accepted by NewProvider.
const (
	ProviderFastEmbed = "fastembed"
	ProviderTEI       = "tei"
	ProviderOpenAI    = "openai"
)

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is "fastembed" (default), "tei" or "openai".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the TEI or OpenAI-compatible endpoint.
	BaseURL string `koanf:"base_url"`

	// APIKey for TEI (optional) or OpenAI.
	APIKey string `koanf:"api_key"`

	// CacheDir is the model cache directory (fastembed only).
	CacheDir string `koanf:"cache_dir"`

	// BatchSize caps texts per request. Zero sends everything at once.
	BatchSize int `koanf:"batch_size"`

	// RequestsPerSecond rate-limits TEI requests. Zero disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// Dimension overrides the dimension inferred from the model name.
	Dimension int `koanf:"dimension"`

	// AutoInstallRuntime downloads the ONNX runtime if missing (fastembed only).
	AutoInstallRuntime bool `koanf:"auto_install_runtime"`
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case ProviderFastEmbed, "":
		p, err = NewFastEmbedProvider(ctx, FastEmbedConfig{
			Model:              cfg.Model,
			CacheDir:           cfg.CacheDir,
			AutoInstallRuntime: cfg.AutoInstallRuntime,
		}, logger)
	case ProviderTEI:
		var svc *Service
		svc, err = NewService(Config{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			APIKey:            cfg.APIKey,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, logger)
		if err == nil {
			p = &teiProvider{Service: svc, dimension: DimensionForModel(cfg.Model)}
		}
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			BatchSize: cfg.BatchSize,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Dimension > 0 {
		p = &fixedDimension{Provider: p, dimension: cfg.Dimension}
	}
	if cfg.BatchSize > 0 && cfg.Provider != ProviderOpenAI {
		p = NewBatched(p, cfg.BatchSize)
	}
	return p, nil
}

// teiProvider wraps Service to implement Provider interface.
type teiProvider struct {
	*Service
	dimension int
}

// Dimension returns the embedding dimension based on the configured model.
func (t *teiProvider) Dimension() int {
	return t.dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (t *teiProvider) Close() error {
	return nil
}

type fixedDimension struct {
	Provider
	dimension int
}

func (f *fixedDimension) Dimension() int { return f.dimension }
