// Package config loads docuchat configuration.
//
// Values come from, lowest precedence first: built-in defaults, a YAML
// file, a .env file and DOCUCHAT_* environment variables. Each section
// reuses the configuration type of the package it configures.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/docuchat/internal/answer"
	"github.com/fyrsmithlabs/docuchat/internal/chunking"
	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/embeddings"
	"github.com/fyrsmithlabs/docuchat/internal/events"
	"github.com/fyrsmithlabs/docuchat/internal/ingest"
	"github.com/fyrsmithlabs/docuchat/internal/logging"
	"github.com/fyrsmithlabs/docuchat/internal/telemetry"
	"github.com/fyrsmithlabs/docuchat/internal/tokens"
	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

// ErrInvalidConfig indicates a configuration that failed validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete docuchat configuration.
type Config struct {
	Server     ServerConfig              `koanf:"server"`
	Store      StoreConfig               `koanf:"store"`
	Qdrant     vectorstore.QdrantConfig  `koanf:"qdrant"`
	Embeddings embeddings.ProviderConfig `koanf:"embeddings"`
	Chunking   chunking.Config           `koanf:"chunking"`
	LLM        answer.Config             `koanf:"llm"`
	Tokens     tokens.Selector           `koanf:"tokens"`
	Ingest     IngestConfig              `koanf:"ingest"`
	Events     events.Config             `koanf:"events"`
	OpenAI     OpenAIConfig              `koanf:"openai"`
	Logging    logging.Config            `koanf:"logging"`
	Telemetry  telemetry.Config          `koanf:"telemetry"`
}

// ServerConfig configures the REST API.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	BodyLimit       string   `koanf:"body_limit"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig configures the collection store and its vector index.
type StoreConfig struct {
	// Provider is "chromem" or "qdrant".
	Provider string `koanf:"provider"`

	// Path holds the chromem database, the collection catalog and the
	// rename journal. "~" expands to the home directory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`

	DefaultK         int      `koanf:"default_k"`
	EmbeddingTimeout Duration `koanf:"embedding_timeout"`
}

// IngestConfig configures file ingestion.
type IngestConfig struct {
	// Replace re-ingests a file over an existing document of the same
	// name instead of adding a second copy.
	Replace       bool                `koanf:"replace"`
	MaxFileSize   int64               `koanf:"max_file_size"`
	TokenEncoding string              `koanf:"token_encoding"`
	Redact        ingest.RedactConfig `koanf:"redact"`
	Watch         ingest.WatchConfig  `koanf:"watch"`
}

// OpenAIConfig holds the OpenAI credential shared by the llm and
// embeddings sections. It falls back to OPENAI_API_KEY.
type OpenAIConfig struct {
	APIKey Secret `koanf:"api_key"`
}

// Default returns the built-in configuration.
func Default() Config {
	cfg := Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			BodyLimit:       "50M",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Provider:         vectorstore.ProviderChromem,
			Path:             filepath.Join("~", ".config", "docuchat", "store"),
			DefaultK:         collections.DefaultK,
			EmbeddingTimeout: Duration(60 * time.Second),
		},
		Embeddings: embeddings.ProviderConfig{
			Provider: embeddings.ProviderFastEmbed,
			Model:    embeddings.DefaultModel,
		},
		Tokens: tokens.DefaultSelector(),
		Ingest: IngestConfig{
			Replace:       true,
			MaxFileSize:   ingest.DefaultMaxFileSize,
			TokenEncoding: tokens.DefaultEncoding,
			Redact:        ingest.RedactConfig{Enabled: true},
			Watch:         ingest.WatchConfig{Debounce: ingest.DefaultDebounce},
		},
		Logging:   logging.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
	cfg.Qdrant.ApplyDefaults()
	cfg.Chunking.ApplyDefaults()
	cfg.LLM.ApplyDefaults()
	cfg.Events.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills fields left empty by the file or environment and
// resolves derived values: the home directory in paths and the shared
// OpenAI key.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = d.Server.BodyLimit
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Store.Provider == "" {
		c.Store.Provider = d.Store.Provider
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Store.DefaultK == 0 {
		c.Store.DefaultK = d.Store.DefaultK
	}
	if c.Store.EmbeddingTimeout == 0 {
		c.Store.EmbeddingTimeout = d.Store.EmbeddingTimeout
	}
	c.Store.Path = expandHome(c.Store.Path)
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = d.Embeddings.Provider
	}
	if c.Embeddings.Model == "" && c.Embeddings.Provider == embeddings.ProviderFastEmbed {
		c.Embeddings.Model = d.Embeddings.Model
	}
	c.Embeddings.CacheDir = expandHome(c.Embeddings.CacheDir)
	if c.Ingest.MaxFileSize == 0 {
		c.Ingest.MaxFileSize = d.Ingest.MaxFileSize
	}
	if c.Ingest.TokenEncoding == "" {
		c.Ingest.TokenEncoding = d.Ingest.TokenEncoding
	}
	c.Ingest.Redact.AllowlistPath = expandHome(c.Ingest.Redact.AllowlistPath)
	if c.Ingest.Watch.Debounce == 0 {
		c.Ingest.Watch.Debounce = d.Ingest.Watch.Debounce
	}

	if !c.OpenAI.APIKey.IsSet() {
		c.OpenAI.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
	if c.LLM.Backend != answer.BackendLocal && c.LLM.APIKey == "" {
		c.LLM.APIKey = c.OpenAI.APIKey.Value()
	}
	if c.Embeddings.Provider == embeddings.ProviderOpenAI && c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = c.OpenAI.APIKey.Value()
	}

	c.Qdrant.ApplyDefaults()
	c.Chunking.ApplyDefaults()
	c.LLM.ApplyDefaults()
	c.Tokens.ApplyDefaults()
	c.Events.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	switch c.Store.Provider {
	case vectorstore.ProviderChromem:
	case vectorstore.ProviderQdrant:
		if c.Qdrant.Host == "" {
			errs = append(errs, errors.New("qdrant.host is required"))
		}
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("qdrant.port %d out of range 1-65535", c.Qdrant.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("store.provider must be %s or %s, got %q",
			vectorstore.ProviderChromem, vectorstore.ProviderQdrant, c.Store.Provider))
	}
	if c.Store.DefaultK < 1 {
		errs = append(errs, fmt.Errorf("store.default_k must be positive, got %d", c.Store.DefaultK))
	}
	switch c.Embeddings.Provider {
	case embeddings.ProviderFastEmbed, embeddings.ProviderTEI, embeddings.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider %q is not one of fastembed, tei, openai", c.Embeddings.Provider))
	}
	if c.Embeddings.Provider == embeddings.ProviderTEI && c.Embeddings.BaseURL == "" {
		errs = append(errs, errors.New("embeddings.base_url is required for tei"))
	}
	if c.Ingest.MaxFileSize < 0 {
		errs = append(errs, errors.New("ingest.max_file_size must not be negative"))
	}
	for _, v := range []interface{ Validate() error }{
		c.Chunking, c.LLM, c.Tokens, c.Events, c.Logging, c.Telemetry,
	} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// VectorStore returns the index configuration for the store section.
// dimension is the embedding size reported by the embedding provider.
func (c *Config) VectorStore(dimension int) vectorstore.Config {
	q := c.Qdrant
	if q.VectorSize == 0 {
		q.VectorSize = uint64(dimension)
	}
	if q.CatalogPath == "" && c.Store.Path != "" {
		q.CatalogPath = filepath.Join(c.Store.Path, "qdrant-catalog")
	}
	return vectorstore.Config{
		Provider: c.Store.Provider,
		Chromem: vectorstore.ChromemConfig{
			Path:       c.Store.Path,
			Compress:   c.Store.Compress,
			VectorSize: dimension,
		},
		Qdrant: q,
	}
}

// Collections returns the collection store configuration.
func (c *Config) Collections() collections.Config {
	return collections.Config{
		Chunking:         c.Chunking,
		DefaultK:         c.Store.DefaultK,
		EmbeddingTimeout: c.Store.EmbeddingTimeout.Duration(),
		JournalDir:       c.Store.Path,
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
