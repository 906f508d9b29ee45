package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const backendChromem = "chromem"

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("docuchat.vectorstore.chromem")

// errEmbeddingNotSupplied is returned by the placeholder embedding function
// handed to chromem; records always arrive with their vectors.
var errEmbeddingNotSupplied = errors.New("embedding must be supplied by the caller")

// ChromemConfig holds configuration for the chromem-go embedded database.
type ChromemConfig struct {
	// Path is the storage root. chromem data lives in Path/chromem and the
	// catalog in Path. Empty keeps everything in memory.
	Path string `koanf:"path"`

	// Compress enables gzip compression of persisted records.
	Compress bool `koanf:"compress"`

	// VectorSize is the embedding dimension assumed for collections that
	// have not yet recorded one.
	// Default: 384 (for FastEmbed bge-small-en-v1.5)
	VectorSize int `koanf:"vector_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements Index on top of chromem-go.
//
// chromem cannot enumerate the records of a collection, so GetAll issues a
// query sized to the collection with a fixed unit vector and reorders the result
// by insertion sequence. Collection metadata and dimensions are kept in a
// Catalog.
type ChromemIndex struct {
	db      *chromem.DB
	catalog *Catalog
	config  ChromemConfig
	logger  *zap.Logger
	seq     sequencer

	// mu serializes collection creation and deletion.
	mu sync.Mutex
}

// NewChromemIndex opens (or creates) a chromem database.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var (
		db      *chromem.DB
		catalog *Catalog
		err     error
	)
	if config.Path == "" {
		db = chromem.NewDB()
		catalog, err = OpenCatalog("", logger)
	} else {
		root, perr := expandPath(config.Path)
		if perr != nil {
			return nil, fmt.Errorf("expanding path: %w", perr)
		}
		dataDir := filepath.Join(root, "chromem")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dataDir, err)
		}
		db, err = chromem.NewPersistentDB(dataDir, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		catalog, err = OpenCatalog(root, logger)
		config.Path = root
	}
	if err != nil {
		return nil, err
	}

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
	)

	return &ChromemIndex{db: db, catalog: catalog, config: config, logger: logger}, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errEmbeddingNotSupplied
}

func (x *ChromemIndex) collection(name string) (*chromem.Collection, error) {
	c := x.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (x *ChromemIndex) handle(name string) Handle {
	h := Handle{Name: name, Metadata: map[string]string{}}
	if e, ok := x.catalog.Get(name); ok {
		h.Metadata = e.Metadata
	}
	return h
}

// CreateOrGet implements Index.
func (x *ChromemIndex) CreateOrGet(ctx context.Context, name string, metadata map[string]string) (h Handle, created bool, err error) {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.CreateOrGet")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "create_or_get", start, err) }(time.Now())

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return Handle{}, false, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.db.GetCollection(name, noEmbedding) != nil {
		span.SetAttributes(attribute.Bool("created", false))
		return x.handle(name), false, nil
	}

	if _, err := x.db.CreateCollection(name, copyMetadata(metadata), noEmbedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Handle{}, false, fmt.Errorf("creating collection %s: %w", name, err)
	}
	if err := x.catalog.Put(CatalogEntry{Name: name, Metadata: metadata}); err != nil {
		_ = x.db.DeleteCollection(name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Handle{}, false, err
	}

	span.SetAttributes(attribute.Bool("created", true))
	span.SetStatus(codes.Ok, "success")
	x.logger.Debug("created chromem collection", zap.String("collection", name))
	return Handle{Name: name, Metadata: copyMetadata(metadata)}, true, nil
}

// Get implements Index.
func (x *ChromemIndex) Get(ctx context.Context, name string) (Handle, error) {
	if _, err := x.collection(name); err != nil {
		return Handle{}, err
	}
	return x.handle(name), nil
}

// Add implements Index.
func (x *ChromemIndex) Add(ctx context.Context, h Handle, b Batch) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Add")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "add", start, err) }(time.Now())

	span.SetAttributes(
		attribute.String("collection", h.Name),
		attribute.Int("record_count", b.Len()),
	)

	if err := b.validate(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	c, err := x.collection(h.Name)
	if err != nil {
		return err
	}

	idx := dedupeLast(b)
	first := x.seq.reserve(len(idx))
	docs := make([]chromem.Document, len(idx))
	for n, i := range idx {
		meta := copyMetadata(b.Metadatas[i])
		meta[SeqKey] = formatSeq(first + int64(n))
		docs[n] = chromem.Document{
			ID:        b.IDs[i],
			Content:   b.Texts[i],
			Metadata:  meta,
			Embedding: b.Vectors[i],
		}
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding records to %s: %w", h.Name, err)
	}
	if len(b.Vectors[0]) > 0 {
		if err := x.catalog.SetDimension(h.Name, len(b.Vectors[0])); err != nil {
			x.logger.Warn("failed to record collection dimension",
				zap.String("collection", h.Name),
				zap.Error(err))
		}
	}

	RecordsWritten.WithLabelValues(backendChromem).Add(float64(len(docs)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query implements Index.
func (x *ChromemIndex) Query(ctx context.Context, h Handle, vector []float32, k int) (matches []Match, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "query", start, err) }(time.Now())

	span.SetAttributes(
		attribute.String("collection", h.Name),
		attribute.Int("k", k),
	)

	c, err := x.collection(h.Name)
	if err != nil {
		return nil, err
	}
	if k <= 0 || c.Count() == 0 {
		return []Match{}, nil
	}

	results, err := queryClamped(ctx, c, vector, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", h.Name, err)
	}

	recs := make([]seqRecord, len(results))
	for i, r := range results {
		recs[i] = seqRecord{
			seq:      parseSeq(r.Metadata),
			id:       r.ID,
			text:     r.Content,
			metadata: r.Metadata,
			distance: 1 - r.Similarity,
		}
	}
	sortByDistance(recs)

	span.SetAttributes(attribute.Int("results_count", len(recs)))
	span.SetStatus(codes.Ok, "success")
	return toMatches(recs), nil
}

// GetAll implements Index.
func (x *ChromemIndex) GetAll(ctx context.Context, h Handle, include Include) (b Batch, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.GetAll")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "get_all", start, err) }(time.Now())

	span.SetAttributes(attribute.String("collection", h.Name))

	c, err := x.collection(h.Name)
	if err != nil {
		return Batch{}, err
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	results, err := queryClamped(ctx, c, x.scanVector(h.Name), 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Batch{}, fmt.Errorf("scanning %s: %w", h.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	recs := make([]seqRecord, len(results))
	for i, r := range results {
		recs[i] = seqRecord{
			seq:      parseSeq(r.Metadata),
			id:       r.ID,
			vector:   r.Embedding,
			text:     r.Content,
			metadata: r.Metadata,
		}
	}
	sortByInsertion(recs)

	span.SetAttributes(attribute.Int("record_count", len(recs)))
	span.SetStatus(codes.Ok, "success")
	return toBatch(recs, include), nil
}

// scanRetries bounds how often queryClamped re-reads a shrinking count.
const scanRetries = 16

// queryClamped queries at most k records, or every record when k <= 0.
// chromem rejects a result count above the live record count, which a
// concurrent delete can lower between Count and the query; the count is
// re-read and the query retried in that case.
func queryClamped(ctx context.Context, c *chromem.Collection, vector []float32, k int) ([]chromem.Result, error) {
	for attempt := 0; ; attempt++ {
		n := c.Count()
		if n == 0 {
			return nil, nil
		}
		want := k
		if want <= 0 || want > n {
			want = n
		}
		results, err := c.QueryEmbedding(ctx, vector, want, nil, nil)
		if err == nil {
			return results, nil
		}
		if attempt >= scanRetries || ctx.Err() != nil || c.Count() >= want {
			return nil, err
		}
	}
}

// scanVector returns a unit vector of the collection's dimension. Its only
// purpose is to make chromem return every record.
func (x *ChromemIndex) scanVector(name string) []float32 {
	dim := x.config.VectorSize
	if e, ok := x.catalog.Get(name); ok && e.Dimension > 0 {
		dim = e.Dimension
	}
	v := make([]float32, dim)
	v[0] = 1
	return v
}

// Delete implements Index.
func (x *ChromemIndex) Delete(ctx context.Context, h Handle, ids []string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Delete")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "delete", start, err) }(time.Now())

	span.SetAttributes(
		attribute.String("collection", h.Name),
		attribute.Int("id_count", len(ids)),
	)

	c, err := x.collection(h.Name)
	if err != nil {
		return err
	}

	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := c.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := c.Delete(ctx, nil, nil, existing...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting records from %s: %w", h.Name, err)
	}

	span.SetStatus(codes.Ok, "success")
	x.logger.Debug("deleted records from chromem",
		zap.String("collection", h.Name),
		zap.Int("count", len(existing)),
	)
	return nil
}

// DeleteCollection implements Index.
func (x *ChromemIndex) DeleteCollection(ctx context.Context, name string) (err error) {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.DeleteCollection")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "delete_collection", start, err) }(time.Now())

	span.SetAttributes(attribute.String("collection", name))

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.db.GetCollection(name, noEmbedding) != nil {
		if err := x.db.DeleteCollection(name); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("deleting collection %s: %w", name, err)
		}
	}
	if err := x.catalog.Delete(name); err != nil {
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// ListCollections implements Index.
func (x *ChromemIndex) ListCollections(ctx context.Context) ([]string, error) {
	colls := x.db.ListCollections()
	names := make([]string, 0, len(colls))
	for name := range colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close implements Index. chromem persists on every write, so there is
// nothing to flush.
func (x *ChromemIndex) Close() error {
	return nil
}

// Ensure ChromemIndex implements Index.
var _ Index = (*ChromemIndex)(nil)
