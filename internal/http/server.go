// Package http serves the collection store over a JSON REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/answer"
	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/ingest"
)

// Store is the collection store as used by the handlers.
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

// Config holds HTTP server configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// BodyLimit caps request bodies, uploads included (default: "50M").
	BodyLimit string `koanf:"body_limit"`

	// Version is reported by /api/v1/status.
	Version string `koanf:"-"`
}

// Server provides the docuchat REST API.
type Server struct {
	echo     *echo.Echo
	store    Store
	answer   *answer.Service
	ingester *ingest.Ingester
	logger   *zap.Logger
	config   *Config
}

// Option adds an optional service to the server.
type Option func(*Server)

// WithAnswer enables the ask and summarize endpoints.
func WithAnswer(svc *answer.Service) Option {
	return func(s *Server) { s.answer = svc }
}

// WithIngester enables file uploads.
func WithIngester(in *ingest.Ingester) Option {
	return func(s *Server) { s.ingester = in }
}

type requestValidator struct {
	v *validator.Validate
}

func (rv requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

// NewServer creates a server over store.
func NewServer(store Store, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("collection store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "50M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
	e.HTTPErrorHandler = errorHandler(e, logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})
	// Metrics writes error responses itself, so the request log above
	// sees the final status.
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	s := &Server{
		echo:   e,
		store:  store,
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)

	v1.GET("/collections", s.handleListCollections)
	v1.POST("/collections", s.handleCreateCollection)
	v1.GET("/collections/:name", s.handleCollectionInfo)
	v1.PATCH("/collections/:name", s.handleRenameCollection)
	v1.DELETE("/collections/:name", s.handleDeleteCollection)

	v1.GET("/collections/:name/documents", s.handleListDocuments)
	v1.POST("/collections/:name/documents", s.handleAddDocument)
	v1.DELETE("/collections/:name/documents/:id", s.handleDeleteDocument)
	v1.POST("/collections/:name/query", s.handleQuery)

	if s.ingester != nil {
		v1.POST("/collections/:name/upload", s.handleUpload)
		v1.POST("/upload", s.handleUpload)
	}
	if s.answer != nil {
		v1.POST("/collections/:name/ask", s.handleAsk)
		v1.POST("/summarize", s.handleSummarize)
	}
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, collections.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, collections.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, collections.ErrValidation),
		errors.Is(err, answer.ErrEmptyQuestion),
		errors.Is(err, ingest.ErrUnsupported),
		errors.Is(err, ingest.ErrParse),
		errors.Is(err, ingest.ErrRejected):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, collections.ErrUpstream), errors.Is(err, answer.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func errorHandler(e *echo.Echo, logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := statusOf(err)
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg = fmt.Sprint(he.Message)
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", zap.Int("status", code), zap.Error(err))
			if code == http.StatusInternalServerError {
				msg = http.StatusText(code)
			}
		}

		resp := errorResponse{Error: msg, RequestID: c.Response().Header().Get(echo.HeaderXRequestID)}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, resp)
		}
		if werr != nil {
			e.Logger.Error(werr)
		}
	}
}

// bindValid binds and validates the request body.
func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// param returns an unescaped path parameter.
func param(c echo.Context, name string) string {
	v := c.Param(name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	counts, err := countContent(c.Request().Context(), s.store)
	resp := StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Services: map[string]string{
			"store":  "ok",
			"answer": availability(s.answer != nil),
			"ingest": availability(s.ingester != nil),
		},
		Counts: counts,
	}
	if err != nil {
		s.logger.Warn("status counts unavailable", zap.Error(err))
		resp.Status = "degraded"
		resp.Services["store"] = "error"
	}
	return c.JSON(http.StatusOK, resp)
}

func availability(ok bool) string {
	if ok {
		return "ok"
	}
	return "disabled"
}

func (s *Server) handleListCollections(c echo.Context) error {
	names, err := s.store.ListCollections(c.Request().Context())
	if err != nil {
		return err
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, ListCollectionsResponse{Collections: names, Count: len(names)})
}

func (s *Server) handleCreateCollection(c echo.Context) error {
	var req CreateCollectionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	name, status, err := s.store.CreateCollection(c.Request().Context(), req.Name, req.Metadata)
	if err != nil {
		return err
	}
	code := http.StatusOK
	if status == collections.StatusCreated {
		code = http.StatusCreated
	}
	return c.JSON(code, CreateCollectionResponse{Name: name, Status: status})
}

func (s *Server) handleCollectionInfo(c echo.Context) error {
	info, err := s.store.GetCollectionInfo(c.Request().Context(), param(c, "name"))
	if err != nil {
		return err
	}
	if info.Documents == nil {
		info.Documents = []collections.DocumentInfo{}
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleRenameCollection(c echo.Context) error {
	var req RenameCollectionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	name, err := s.store.RenameCollection(c.Request().Context(), param(c, "name"), req.NewName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RenameCollectionResponse{Name: name})
}

func (s *Server) handleDeleteCollection(c echo.Context) error {
	if err := s.store.DeleteCollection(c.Request().Context(), param(c, "name")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.store.ListDocuments(c.Request().Context(), param(c, "name"))
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []collections.DocumentInfo{}
	}
	return c.JSON(http.StatusOK, ListDocumentsResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) handleAddDocument(c echo.Context) error {
	var req AddDocumentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	res, err := s.store.AddDocument(c.Request().Context(), param(c, "name"), req.Text, req.Metadata, req.DocumentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	collection, id := param(c, "name"), param(c, "id")
	deleted, err := s.store.DeleteDocument(c.Request().Context(), collection, id)
	if err != nil {
		return err
	}
	if !deleted {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("document %q not found in %q", id, collection))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	results, err := s.store.QueryDocuments(c.Request().Context(), param(c, "name"), req.Query, req.K)
	if err != nil {
		return err
	}
	if results == nil {
		results = []collections.Result{}
	}
	return c.JSON(http.StatusOK, QueryResponse{Results: results, Count: len(results)})
}

// handleUpload ingests the "files" parts of a multipart form. The
// collection comes from the path or, on /upload, from the first file.
func (s *Server) handleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected a multipart form with files")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files uploaded")
	}
	files := make([]ingest.File, len(headers))
	for i, fh := range headers {
		fh := fh
		files[i] = ingest.File{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		}
	}
	res := s.ingester.ProcessFiles(c.Request().Context(), param(c, "name"), files)

	code := http.StatusCreated
	if res.SuccessCount == 0 {
		code = http.StatusUnprocessableEntity
	}
	return c.JSON(code, res)
}

// handleAsk answers a question. With ?stream=true the answer is written
// as plain text while it is generated.
func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	collection := param(c, "name")

	if c.QueryParam("stream") != "true" {
		a, err := s.answer.Ask(ctx, collection, req.History, req.Question, nil)
		if err != nil {
			return err
		}
		if a.Sources == nil {
			a.Sources = []collections.Result{}
		}
		return c.JSON(http.StatusOK, a)
	}

	res := c.Response()
	_, err := s.answer.Ask(ctx, collection, req.History, req.Question, func(_ context.Context, chunk string) error {
		if !res.Committed {
			res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
			res.WriteHeader(http.StatusOK)
		}
		if _, err := io.WriteString(res, chunk); err != nil {
			return err
		}
		res.Flush()
		return nil
	})
	if err != nil && res.Committed {
		s.logger.Warn("streamed answer interrupted", zap.String("collection", collection), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if !res.Committed {
		return c.NoContent(http.StatusOK)
	}
	return nil
}

func (s *Server) handleSummarize(c echo.Context) error {
	var req SummarizeRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is empty")
	}
	summary, err := s.answer.Summarize(c.Request().Context(), req.Text, nil)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SummarizeResponse{Summary: summary})
}
