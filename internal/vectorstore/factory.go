package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Supported providers.
const (
	ProviderChromem = "chromem"
	ProviderQdrant  = "qdrant"
)

// Config selects and configures an Index backend.
type Config struct {
	// Provider is "chromem" (default) or "qdrant".
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// NewIndex creates the Index described by cfg.
//
// The chromem provider is recommended for single-user installs as it
// requires no setup:
//
//	idx, err := vectorstore.NewIndex(ctx, cfg.VectorStore, logger)
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
func NewIndex(ctx context.Context, cfg Config, logger *zap.Logger) (Index, error) {
	switch cfg.Provider {
	case ProviderChromem, "":
		return NewChromemIndex(cfg.Chromem, logger)
	case ProviderQdrant:
		return NewQdrantIndex(ctx, cfg.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
