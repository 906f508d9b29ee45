package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/answer"
	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/ingest"
)

// Store is the collection store as used by the tools.
type Store interface {
	CreateCollection(ctx context.Context, name string, metadata map[string]string) (string, collections.Status, error)
	AddDocument(ctx context.Context, collection, text string, metadata map[string]string, docID string) (collections.AddResult, error)
	QueryDocuments(ctx context.Context, collection, query string, k int) ([]collections.Result, error)
	ListCollections(ctx context.Context) ([]string, error)
	GetCollectionInfo(ctx context.Context, collection string) (collections.CollectionInfo, error)
	ListDocuments(ctx context.Context, collection string) ([]collections.DocumentInfo, error)
	DeleteDocument(ctx context.Context, collection, docID string) (bool, error)
	RenameCollection(ctx context.Context, oldName, newName string) (string, error)
	DeleteCollection(ctx context.Context, collection string) error
}

var _ Store = (*collections.Store)(nil)

// Server is an MCP server over a collection store.
type Server struct {
	mcp      *mcp.Server
	store    Store
	answer   *answer.Service
	ingester *ingest.Ingester
	registry *ToolRegistry
	metrics  *Metrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "docuchat").
	Name string

	// Version is the server version (default: "dev").
	Version string

	Logger *zap.Logger
}

// Option adds an optional service to the server.
type Option func(*Server)

// WithAnswer enables the ask and summarize tools.
func WithAnswer(svc *answer.Service) Option {
	return func(s *Server) { s.answer = svc }
}

// WithIngester enables the ingest_files tool.
func WithIngester(in *ingest.Ingester) Option {
	return func(s *Server) { s.ingester = in }
}

// NewServer creates a server exposing store.
func NewServer(cfg Config, store Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("collection store is required")
	}
	if cfg.Name == "" {
		cfg.Name = "docuchat"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		mcp:      mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		store:    store,
		registry: NewToolRegistry(),
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerCollectionTools()
	s.registerDocumentTools()
	if s.answer != nil {
		s.registerChatTools()
	}
	if s.ingester != nil {
		s.registerIngestTools()
	}
	s.registerSearchTools()
	return s, nil
}

// Registry returns the metadata of the registered tools.
func (s *Server) Registry() *ToolRegistry { return s.registry }

// Run serves MCP on stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.Int("tools", s.registry.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
