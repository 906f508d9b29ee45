package collections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/chunking"
	"github.com/fyrsmithlabs/docuchat/internal/sanitize"
	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/docuchat/internal/collections"

// Config configures a Store.
type Config struct {
	// Chunking selects how document text is split (default: fixed 500).
	Chunking chunking.Config

	// DefaultK is used by QueryDocuments when k <= 0 (default: 3).
	DefaultK int

	// EmbeddingTimeout bounds each embedding call. Zero means no bound
	// beyond the caller's context.
	EmbeddingTimeout time.Duration

	// JournalDir holds the rename journal. Empty keeps it in memory.
	JournalDir string
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Chunking:         chunking.Config{Strategy: chunking.StrategyFixed, Size: chunking.DefaultSize},
		DefaultK:         DefaultK,
		EmbeddingTimeout: 60 * time.Second,
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNotifier sets the change event receiver.
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithTracerProvider traces store operations with tp instead of the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		if tp != nil {
			s.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider records store metrics with mp instead of the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Store) {
		s.meterProvider = mp
	}
}

// WithClock overrides the clock used for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store owns the mapping between documents and collections and the chunk
// records that back them. It is safe for concurrent use; mutations of the
// same collection are serialised, different collections proceed in
// parallel.
type Store struct {
	index    vectorstore.Index
	embedder vectorstore.Embedder
	chunker  chunking.Chunker
	journal  *Journal
	notifier Notifier
	config   Config
	logger   *zap.Logger
	locks    *nameLocks
	now      func() time.Time

	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	opCounter     metric.Int64Counter
	chunksCounter metric.Int64Counter
	orphanCounter metric.Int64Counter
}

// NewStore creates a Store over index using embedder for vectors.
func NewStore(index vectorstore.Index, embedder vectorstore.Embedder, cfg Config, opts ...Option) (*Store, error) {
	if index == nil {
		return nil, errors.New("collections: vector index is required")
	}
	if embedder == nil {
		return nil, errors.New("collections: embedder is required")
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	chunker, err := chunking.New(cfg.Chunking)
	if err != nil {
		return nil, fmt.Errorf("collections: %w", err)
	}

	s := &Store{
		index:    index,
		embedder: embedder,
		chunker:  chunker,
		config:   cfg,
		logger:   zap.NewNop(),
		locks:    newNameLocks(),
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.journal, err = OpenJournal(cfg.JournalDir, s.logger)
	if err != nil {
		return nil, fmt.Errorf("collections: %w", err)
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	s.initMetrics(s.meterProvider.Meter(instrumentationName))
	return s, nil
}

func (s *Store) initMetrics(meter metric.Meter) {
	var err error
	s.opCounter, err = meter.Int64Counter(
		"docuchat.collections.operations_total",
		metric.WithDescription("Collection store operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create operation counter", zap.Error(err))
	}
	s.chunksCounter, err = meter.Int64Counter(
		"docuchat.collections.chunks_written_total",
		metric.WithDescription("Chunks written by AddDocument and renames"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		s.logger.Warn("failed to create chunk counter", zap.Error(err))
	}
	s.orphanCounter, err = meter.Int64Counter(
		"docuchat.collections.orphan_chunks_total",
		metric.WithDescription("Chunks seen during aggregation that belong to no document"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		s.logger.Warn("failed to create orphan counter", zap.Error(err))
	}
}

// Journal exposes the rename journal.
func (s *Store) Journal() *Journal { return s.journal }

// Index returns the underlying vector index.
func (s *Store) Index() vectorstore.Index { return s.index }

func (s *Store) start(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "collections."+op,
		trace.WithAttributes(attribute.String("collection", collection)))
}

func (s *Store) finish(ctx context.Context, span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	if s.opCounter != nil {
		s.opCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("result", result)))
	}
}

func (s *Store) notify(ctx context.Context, e Event) {
	if s.notifier == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = s.now().UTC()
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.logger.Warn("change notification failed",
			zap.String("type", string(e.Type)),
			zap.String("collection", e.Collection),
			zap.Error(err))
	}
}

func (s *Store) withEmbeddingTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.EmbeddingTimeout > 0 {
		return context.WithTimeout(ctx, s.config.EmbeddingTimeout)
	}
	return context.WithCancel(ctx)
}

// ensure creates the collection if needed, stamping created_at. Caller
// holds the name lock.
func (s *Store) ensure(ctx context.Context, name string, metadata map[string]string) (vectorstore.Handle, bool, error) {
	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if meta[KeyCreatedAt] == "" {
		meta[KeyCreatedAt] = s.now().UTC().Format(time.RFC3339)
	}
	h, created, err := s.index.CreateOrGet(ctx, name, meta)
	if err != nil {
		return vectorstore.Handle{}, false, classify("create collection", err)
	}
	if created {
		s.logger.Info("collection created", zap.String("collection", name))
		s.notify(ctx, Event{Type: EventCollectionCreated, Collection: name})
	}
	return h, created, nil
}

// CreateCollection creates the collection named by the sanitized form of
// name. An existing collection is returned untouched with StatusExisting.
func (s *Store) CreateCollection(ctx context.Context, name string, metadata map[string]string) (_ string, _ Status, err error) {
	name = sanitize.CollectionName(name)
	ctx, span := s.start(ctx, "CreateCollection", name)
	defer func() { s.finish(ctx, span, "create_collection", err) }()

	unlock, err := s.lockForWrite(ctx, name)
	if err != nil {
		return "", "", err
	}
	defer unlock()

	_, created, err := s.ensure(ctx, name, metadata)
	if err != nil {
		return "", "", err
	}
	return name, statusOf(created), nil
}

// AddDocument chunks text, embeds every chunk in one batch and writes all
// chunks of the document in a single index call.
//
// docID defaults to a generated "chunk-<uuid>". Chunk ids are
// "{docID}_chunk_{i}"; every chunk carries the caller metadata plus
// document_id and chunk_index. An embedding failure leaves the collection
// without any new record. A failure of the index write itself may leave a
// partial document.
func (s *Store) AddDocument(ctx context.Context, collection, text string, metadata map[string]string, docID string) (_ AddResult, err error) {
	name := sanitize.CollectionName(collection)
	ctx, span := s.start(ctx, "AddDocument", name)
	defer func() { s.finish(ctx, span, "add_document", err) }()

	return s.put(ctx, span, name, text, metadata, docID, false)
}

// ReplaceDocument stores text as the new content of docID. The new chunks
// are written first and overwrite the old ones in place; chunks of the
// previous version beyond the new chunk count are removed afterwards. An
// embedding failure leaves the previous version untouched. Text without
// chunks removes the document.
func (s *Store) ReplaceDocument(ctx context.Context, collection, text string, metadata map[string]string, docID string) (_ AddResult, err error) {
	name := sanitize.CollectionName(collection)
	ctx, span := s.start(ctx, "ReplaceDocument", name)
	defer func() { s.finish(ctx, span, "replace_document", err) }()

	if docID == "" {
		return AddResult{}, fmt.Errorf("%w: replacing requires a document id", ErrValidation)
	}
	return s.put(ctx, span, name, text, metadata, docID, true)
}

func (s *Store) put(ctx context.Context, span trace.Span, name, text string, metadata map[string]string, docID string, replace bool) (AddResult, error) {
	if docID != "" {
		if verr := sanitize.ValidateDocumentID(docID); verr != nil {
			return AddResult{}, fmt.Errorf("%w: %w", ErrValidation, verr)
		}
	}

	unlock, err := s.lockForWrite(ctx, name)
	if err != nil {
		return AddResult{}, err
	}
	defer unlock()

	h, created, err := s.ensure(ctx, name, nil)
	if err != nil {
		return AddResult{}, err
	}
	result := AddResult{Collection: name, Status: statusOf(created)}

	chunks := s.chunker.Chunk(text)
	if len(chunks) == 0 {
		s.logger.Debug("document produced no chunks", zap.String("collection", name))
		if replace && !created {
			if _, err := s.removeStale(ctx, h, docID, nil); err != nil {
				return AddResult{}, err
			}
		}
		return result, nil
	}

	ectx, cancel := s.withEmbeddingTimeout(ctx)
	vectors, err := s.embedder.EmbedDocuments(ectx, chunks)
	cancel()
	if err != nil {
		return AddResult{}, fmt.Errorf("%w: embedding %d chunks: %w", ErrUpstream, len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return AddResult{}, fmt.Errorf("%w: embedder returned %d vectors for %d chunks",
			ErrUpstream, len(vectors), len(chunks))
	}

	if docID == "" {
		docID = DefaultDocumentPrefix + "-" + uuid.NewString()
	}
	batch := buildBatch(docID, chunks, vectors, metadata)
	if err := s.index.Add(ctx, h, batch); err != nil {
		return AddResult{}, classify("add chunks", err)
	}
	if s.chunksCounter != nil {
		s.chunksCounter.Add(ctx, int64(len(chunks)))
	}
	stale := 0
	if replace && !created {
		keep := make(map[string]bool, len(batch.IDs))
		for _, id := range batch.IDs {
			keep[id] = true
		}
		if stale, err = s.removeStale(ctx, h, docID, keep); err != nil {
			return AddResult{}, err
		}
	}

	span.SetAttributes(attribute.String("document_id", docID), attribute.Int("chunks", len(chunks)))
	s.logger.Info("document added",
		zap.String("collection", name),
		zap.String("document_id", docID),
		zap.Int("chunks", len(chunks)),
		zap.Int("stale_chunks_removed", stale))
	s.notify(ctx, Event{Type: EventDocumentAdded, Collection: name, DocumentID: docID, ChunkCount: len(chunks)})

	result.DocumentID = docID
	result.ChunkCount = len(chunks)
	return result, nil
}

// removeStale deletes the chunks of docID whose ids are not in keep.
// Caller holds the write lock.
func (s *Store) removeStale(ctx context.Context, h vectorstore.Handle, docID string, keep map[string]bool) (int, error) {
	b, err := s.index.GetAll(ctx, h, vectorstore.Include{Metadatas: true})
	if err != nil {
		return 0, classify("scan collection", err)
	}
	var stale []string
	for _, id := range chunksOf(b, docID) {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.index.Delete(ctx, h, stale); err != nil {
		return 0, classify("delete stale chunks", err)
	}
	return len(stale), nil
}

// QueryDocuments returns the k chunks closest to query, best first. Chunks
// of the same document are not merged. k <= 0 selects the configured
// default.
func (s *Store) QueryDocuments(ctx context.Context, collection, query string, k int) (_ []Result, err error) {
	name := sanitize.CollectionName(collection)
	ctx, span := s.start(ctx, "QueryDocuments", name)
	defer func() { s.finish(ctx, span, "query_documents", err) }()

	if k <= 0 {
		k = s.config.DefaultK
	}
	unlock := s.locks.rlock(name)
	defer unlock()

	h, err := s.index.Get(ctx, name)
	if err != nil {
		return nil, classify("get collection", err)
	}

	ectx, cancel := s.withEmbeddingTimeout(ctx)
	vector, err := s.embedder.EmbedQuery(ectx, query)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrUpstream, err)
	}

	matches, err := s.index.Query(ctx, h, vector, k)
	if err != nil {
		return nil, classify("query", err)
	}
	span.SetAttributes(attribute.Int("k", k), attribute.Int("results", len(matches)))
	return matches, nil
}

// ListCollections returns every collection name in lexical order.
func (s *Store) ListCollections(ctx context.Context) (_ []string, err error) {
	ctx, span := s.start(ctx, "ListCollections", "")
	defer func() { s.finish(ctx, span, "list_collections", err) }()

	names, err := s.index.ListCollections(ctx)
	if err != nil {
		return nil, classify("list collections", err)
	}
	return names, nil
}

// GetCollectionInfo scans the collection and summarises it. Orphan chunks
// count towards ChunkCount only.
func (s *Store) GetCollectionInfo(ctx context.Context, collection string) (_ CollectionInfo, err error) {
	name := sanitize.CollectionName(collection)
	ctx, span := s.start(ctx, "GetCollectionInfo", name)
	defer func() { s.finish(ctx, span, "get_collection_info", err) }()

	h, docs, total, err := s.scan(ctx, name)
	if err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{
		Name:          name,
		CreatedAt:     parseCreatedAt(h),
		DocumentCount: len(docs),
		ChunkCount:    total,
		Documents:     docs,
	}, nil
}

// ListDocuments returns the documents of a collection ordered by
// upload_date, then by first appearance.
func (s *Store) ListDocuments(ctx context.Context, collection string) (_ []DocumentInfo, err error) {
	name := sanitize.CollectionName(collection)
	ctx, span := s.start(ctx, "ListDocuments", name)
	defer func() { s.finish(ctx, span, "list_documents", err) }()

	_, docs, _, err := s.scan(ctx, name)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// scan reads the collection under its read lock so that it never sees a
// mutation half applied.
func (s *Store) scan(ctx context.Context, name string) (vectorstore.Handle, []DocumentInfo, int, error) {
	unlock := s.locks.rlock(name)
	defer unlock()

	h, err := s.index.Get(ctx, name)
	if err != nil {
		return vectorstore.Handle{}, nil, 0, classify("get collection", err)
	}
	b, err := s.index.GetAll(ctx, h, vectorstore.Include{Metadatas: true})
	if err != nil {
		return vectorstore.Handle{}, nil, 0, classify("scan collection", err)
	}
	docs, orphans := aggregate(b)
	if len(orphans) > 0 {
		s.logger.Warn("orphaned chunks excluded from documents",
			zap.String("collection", name),
			zap.Int("count", len(orphans)),
			zap.Strings("sample", sample(orphans, 5)))
		if s.orphanCounter != nil {
			s.orphanCounter.Add(ctx, int64(len(orphans)))
		}
	}
	return h, docs, b.Len(), nil
}

// DeleteDocument removes every chunk of docID. It reports false when the
// collection or the document does not exist.
func (s *Store) DeleteDocument(ctx context.Context, collection, docID string) (_ bool, err error) {
	name := sanitize.CollectionName(collection)
	ctx, span := s.start(ctx, "DeleteDocument", name)
	defer func() { s.finish(ctx, span, "delete_document", err) }()

	if verr := sanitize.ValidateDocumentID(docID); verr != nil {
		return false, fmt.Errorf("%w: %w", ErrValidation, verr)
	}

	unlock, err := s.lockForWrite(ctx, name)
	if err != nil {
		return false, err
	}
	defer unlock()

	h, err := s.index.Get(ctx, name)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, classify("get collection", err)
	}
	b, err := s.index.GetAll(ctx, h, vectorstore.Include{Metadatas: true})
	if err != nil {
		return false, classify("scan collection", err)
	}
	ids := chunksOf(b, docID)
	if len(ids) == 0 {
		return false, nil
	}
	if err := s.index.Delete(ctx, h, ids); err != nil {
		return false, classify("delete chunks", err)
	}

	s.logger.Info("document deleted",
		zap.String("collection", name),
		zap.String("document_id", docID),
		zap.Int("chunks", len(ids)))
	s.notify(ctx, Event{Type: EventDocumentDeleted, Collection: name, DocumentID: docID, ChunkCount: len(ids)})
	return true, nil
}

// DeleteCollection removes a collection and all of its chunks. Deleting a
// missing collection succeeds.
func (s *Store) DeleteCollection(ctx context.Context, collection string) (err error) {
	name := sanitize.CollectionName(collection)
	ctx, span := s.start(ctx, "DeleteCollection", name)
	defer func() { s.finish(ctx, span, "delete_collection", err) }()

	unlock, err := s.lockForWrite(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.index.DeleteCollection(ctx, name); err != nil {
		return classify("delete collection", err)
	}
	s.logger.Info("collection deleted", zap.String("collection", name))
	s.notify(ctx, Event{Type: EventCollectionDeleted, Collection: name})
	return nil
}

// Close closes the underlying index.
func (s *Store) Close() error {
	return s.index.Close()
}
