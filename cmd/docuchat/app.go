package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/answer"
	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/config"
	"github.com/fyrsmithlabs/docuchat/internal/embeddings"
	"github.com/fyrsmithlabs/docuchat/internal/events"
	"github.com/fyrsmithlabs/docuchat/internal/ingest"
	"github.com/fyrsmithlabs/docuchat/internal/logging"
	"github.com/fyrsmithlabs/docuchat/internal/telemetry"
	"github.com/fyrsmithlabs/docuchat/internal/tokens"
	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

// Constructors replaced in tests.
var (
	newEmbedder = embeddings.NewProvider
	newCounter  = tokens.NewCounter
	newModel    = answer.NewModel
)

// app holds the services built from the configuration.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	tel       *telemetry.Telemetry
	embedder  embeddings.Provider
	store     *collections.Store
	publisher *events.Publisher
	parser    *ingest.Parser
	ingester  *ingest.Ingester
}

// loadConfig reads the configuration named by the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{ConfigPath: configPath, EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newApp wires the store and its collaborators:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Creates the embedding provider and the vector index
//  4. Connects to NATS when change events are enabled
//  5. Opens the collection store and resumes interrupted renames
//  6. Builds the document parser and ingester
func newApp(ctx context.Context) (_ *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.tel, err = telemetry.New(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if cfg.Telemetry.Enabled && cfg.Logging.Output.OTEL {
		bridged, err := logging.NewLogger(cfg.Logging, a.tel.LoggerProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.logger, logger = bridged, bridged
	}

	a.embedder, err = newEmbedder(ctx, cfg.Embeddings, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	logger.Debug("embedding provider ready",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", a.embedder.Dimension()))

	index, err := vectorstore.NewIndex(ctx, cfg.VectorStore(a.embedder.Dimension()), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	opts := []collections.Option{
		collections.WithLogger(logger),
		collections.WithTracerProvider(a.tel.TracerProvider()),
		collections.WithMeterProvider(a.tel.MeterProvider()),
	}
	if cfg.Events.Enabled {
		a.publisher, err = events.Connect(cfg.Events, logger)
		if err != nil {
			_ = index.Close()
			return nil, err
		}
		opts = append(opts, collections.WithNotifier(a.publisher))
	}

	a.store, err = collections.NewStore(index, a.embedder, cfg.Collections(), opts...)
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to open collection store: %w", err)
	}
	if n, rerr := a.store.ResumeRenames(ctx); rerr != nil {
		logger.Warn("failed to resume interrupted renames", zap.Error(rerr))
	} else if n > 0 {
		logger.Info("resumed interrupted renames", zap.Int("repaired", n))
	}

	counter, cerr := newCounter(cfg.Ingest.TokenEncoding)
	if cerr != nil {
		logger.Warn("token encoding unavailable, estimating token counts",
			zap.String("encoding", cfg.Ingest.TokenEncoding), zap.Error(cerr))
	}
	redactor, err := ingest.NewRedactor(cfg.Ingest.Redact, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redactor: %w", err)
	}
	a.parser = ingest.NewParser(counter, cfg.Tokens,
		ingest.WithRedactor(redactor),
		ingest.WithMaxFileSize(cfg.Ingest.MaxFileSize),
		ingest.WithParserLogger(logger),
	)
	a.ingester = ingest.NewIngester(a.store, a.parser, cfg.Ingest.Replace, logger)
	return a, nil
}

// answerService builds the chat service. It fails when the configured
// LLM backend cannot be reached, for instance without an OpenAI key.
func (a *app) answerService() (*answer.Service, error) {
	model, err := newModel(a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	return answer.NewService(a.store, model, a.cfg.LLM, a.logger)
}

// Close releases everything newApp opened.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(context.Background()))
	}
	if a.logger != nil {
		_ = logging.Sync(a.logger)
	}
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()
	return fn(logging.WithLogger(ctx, a.logger), a)
}
