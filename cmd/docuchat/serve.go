package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/docuchat/internal/http"
	mcpserver "github.com/fyrsmithlabs/docuchat/internal/mcp"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	Long: `Serve the collection store over the REST API until interrupted.

The ask and summarize endpoints are enabled when the configured LLM
backend can be reached. Prometheus metrics are exposed on /metrics.

Examples:
  docuchat serve
  docuchat serve --host 0.0.0.0 --port 8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the store as MCP tools over stdio",
	Long: `Run an MCP server on stdin/stdout so that agents can create collections,
add and query documents and ask questions. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: server.port)")

	rootCmd.AddCommand(serveCmd, mcpCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		cfg := &httpapi.Config{
			Host:      a.cfg.Server.Host,
			Port:      a.cfg.Server.Port,
			BodyLimit: a.cfg.Server.BodyLimit,
			Version:   version,
		}
		if serveHost != "" {
			cfg.Host = serveHost
		}
		if servePort != 0 {
			cfg.Port = servePort
		}

		opts := []httpapi.Option{httpapi.WithIngester(a.ingester)}
		if svc, err := a.answerService(); err != nil {
			a.logger.Warn("chat endpoints disabled", zap.Error(err))
		} else {
			opts = append(opts, httpapi.WithAnswer(svc))
		}

		srv, err := httpapi.NewServer(a.store, a.logger, cfg, opts...)
		if err != nil {
			return fmt.Errorf("failed to create HTTP server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		a.logger.Info("server shutdown complete")
		return nil
	})
}

func runMCP(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		opts := []mcpserver.Option{mcpserver.WithIngester(a.ingester)}
		if svc, err := a.answerService(); err != nil {
			a.logger.Warn("ask and summarize tools disabled", zap.Error(err))
		} else {
			opts = append(opts, mcpserver.WithAnswer(svc))
		}

		srv, err := mcpserver.NewServer(mcpserver.Config{
			Name:    "docuchat",
			Version: version,
			Logger:  a.logger,
		}, a.store, opts...)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		return srv.Run(ctx)
	})
}
