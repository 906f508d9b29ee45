// Package logging builds the zap loggers used across docuchat.
//
// Loggers write to stderr, never stdout, so the MCP stdio transport and
// command output stay clean. Entries can also be bridged to an
// OpenTelemetry log provider. Field names and value patterns that look like
// credentials are redacted at the encoder, and below-error levels are
// sampled.
//
//	logger, err := logging.NewLogger(cfg.Logging, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logging.Sync(logger)
//
// Request scoped fields travel in the context:
//
//	ctx = logging.WithRequestID(ctx, id)
//	ctx = logging.WithCollection(ctx, "reports")
//	logger.Info("query served", logging.ContextFields(ctx)...)
package logging
