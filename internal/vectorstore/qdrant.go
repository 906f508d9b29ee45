package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const backendQdrant = "qdrant"

// Reserved payload keys. Record metadata is stored alongside them as
// top-level string fields.
const (
	payloadID   = "_id"
	payloadText = "_text"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("docuchat.vectorstore.qdrant")

// pointNamespace derives deterministic Qdrant point UUIDs from record ids.
var pointNamespace = uuid.MustParse("5b0e4c1e-6f52-4d0c-9a3b-8f1d7c2e4a90")

// QdrantConfig holds configuration for Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334
	Port int `koanf:"port"`

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string `koanf:"api_key"`

	// VectorSize is the dimensionality of embeddings. MUST match the
	// embedder output dimension.
	VectorSize uint64 `koanf:"vector_size"`

	// Distance is the similarity metric. Only Cosine yields distances
	// in the documented 1 - similarity form.
	Distance qdrant.Distance `koanf:"-"`

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry.
	// Default: 1 second
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int `koanf:"max_message_size"`

	// CircuitBreakerThreshold is the number of failures before opening circuit.
	// Default: 5
	CircuitBreakerThreshold int `koanf:"circuit_breaker_threshold"`

	// ScrollPageSize is the page size used by GetAll.
	// Default: 256
	ScrollPageSize uint32 `koanf:"scroll_page_size"`

	// CatalogPath is the directory holding the collection catalog.
	// Empty keeps the catalog in memory.
	CatalogPath string `koanf:"catalog_path"`
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024 // 50MB
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.ScrollPageSize == 0 {
		c.ScrollPageSize = 256
	}
	if c.Distance == 0 {
		c.Distance = qdrant.Distance_Cosine
	}
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts, temporary unavailability.
// Returns false for invalid config, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// QdrantIndex implements Index using Qdrant's native gRPC client.
type QdrantIndex struct {
	client  *qdrant.Client
	catalog *Catalog
	config  QdrantConfig
	logger  *zap.Logger
	seq     sequencer

	// circuitBreaker tracks failures for circuit breaker pattern
	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantIndex connects to Qdrant and verifies the connection.
func NewQdrantIndex(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	catalogDir := config.CatalogPath
	if catalogDir != "" {
		if catalogDir, err = expandPath(catalogDir); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("expanding path: %w", err)
		}
	}
	catalog, err := OpenCatalog(catalogDir, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	x := &QdrantIndex{client: client, catalog: catalog, config: config, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := x.healthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return x, nil
}

// healthCheck performs a health check on the Qdrant connection.
func (x *QdrantIndex) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.HealthCheck")
	defer span.End()

	if _, err := x.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (x *QdrantIndex) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	if x.isCircuitOpen() {
		return fmt.Errorf("%s: circuit breaker open", operationName)
	}

	backoff := x.config.RetryBackoff
	for attempt := 0; attempt <= x.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			x.resetCircuitBreaker()
			return nil
		}

		if !IsTransientError(err) {
			return err
		}

		x.recordFailure()
		if x.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open: %w", operationName, err)
		}

		if attempt == x.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, x.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (x *QdrantIndex) recordFailure() {
	x.circuitBreaker.mu.Lock()
	defer x.circuitBreaker.mu.Unlock()
	x.circuitBreaker.failures++
	x.circuitBreaker.lastFail = timeNow()
}

func (x *QdrantIndex) resetCircuitBreaker() {
	x.circuitBreaker.mu.Lock()
	defer x.circuitBreaker.mu.Unlock()
	x.circuitBreaker.failures = 0
}

func (x *QdrantIndex) isCircuitOpen() bool {
	x.circuitBreaker.mu.Lock()
	defer x.circuitBreaker.mu.Unlock()

	if x.circuitBreaker.failures >= x.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds
		if timeNow().Sub(x.circuitBreaker.lastFail) > 30*time.Second {
			x.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

func (x *QdrantIndex) exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := x.retryOperation(ctx, "collection_exists", func() error {
		_, err := x.client.GetCollectionInfo(ctx, name)
		if isNotFound(err) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (x *QdrantIndex) handle(name string) Handle {
	h := Handle{Name: name, Metadata: map[string]string{}}
	if e, ok := x.catalog.Get(name); ok {
		h.Metadata = e.Metadata
	}
	return h
}

// CreateOrGet implements Index.
func (x *QdrantIndex) CreateOrGet(ctx context.Context, name string, metadata map[string]string) (h Handle, created bool, err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.CreateOrGet")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "create_or_get", start, err) }(time.Now())

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return Handle{}, false, err
	}

	ok, err := x.exists(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Handle{}, false, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if ok {
		return x.handle(name), false, nil
	}

	err = x.retryOperation(ctx, "create_collection", func() error {
		return x.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     x.config.VectorSize,
				Distance: x.config.Distance,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Handle{}, false, fmt.Errorf("creating collection %s: %w", name, err)
	}
	if err := x.catalog.Put(CatalogEntry{Name: name, Metadata: metadata, Dimension: int(x.config.VectorSize)}); err != nil {
		return Handle{}, false, err
	}

	span.SetStatus(codes.Ok, "success")
	return Handle{Name: name, Metadata: copyMetadata(metadata)}, true, nil
}

// Get implements Index.
func (x *QdrantIndex) Get(ctx context.Context, name string) (Handle, error) {
	ok, err := x.exists(ctx, name)
	if err != nil {
		return Handle{}, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return x.handle(name), nil
}

// pointID maps a record id onto a stable Qdrant UUID.
func pointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func buildPayload(id, text string, seq int64, metadata map[string]string) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+3)
	for k, v := range metadata {
		payload[k] = stringValue(v)
	}
	payload[payloadID] = stringValue(id)
	payload[payloadText] = stringValue(text)
	payload[SeqKey] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: seq}}
	return payload
}

// parsePayload splits a stored payload back into record fields.
func parsePayload(payload map[string]*qdrant.Value) seqRecord {
	rec := seqRecord{seq: -1, metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case payloadID:
				rec.id = val.StringValue
			case payloadText:
				rec.text = val.StringValue
			default:
				rec.metadata[k] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			if k == SeqKey {
				rec.seq = val.IntegerValue
			} else {
				rec.metadata[k] = strconv.FormatInt(val.IntegerValue, 10)
			}
		case *qdrant.Value_DoubleValue:
			rec.metadata[k] = strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
		case *qdrant.Value_BoolValue:
			rec.metadata[k] = strconv.FormatBool(val.BoolValue)
		}
	}
	return rec
}

// Add implements Index.
func (x *QdrantIndex) Add(ctx context.Context, h Handle, b Batch) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Add")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "add", start, err) }(time.Now())

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

	idx := dedupeLast(b)
	first := x.seq.reserve(len(idx))
	points := make([]*qdrant.PointStruct, len(idx))
	for n, i := range idx {
		points[n] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(b.IDs[i])),
			Vectors: qdrant.NewVectors(b.Vectors[i]...),
			Payload: buildPayload(b.IDs[i], b.Texts[i], first+int64(n), copyMetadata(b.Metadatas[i])),
		}
	}

	err = x.retryOperation(ctx, "upsert", func() error {
		_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: h.Name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, h.Name)
		}
		return fmt.Errorf("upserting points to collection %s: %w", h.Name, err)
	}

	RecordsWritten.WithLabelValues(backendQdrant).Add(float64(len(points)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query implements Index.
func (x *QdrantIndex) Query(ctx context.Context, h Handle, vector []float32, k int) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Query")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "query", start, err) }(time.Now())

	span.SetAttributes(
		attribute.String("collection", h.Name),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return []Match{}, nil
	}

	var results []*qdrant.ScoredPoint
	err = x.retryOperation(ctx, "query", func() error {
		res, err := x.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: h.Name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, h.Name)
		}
		return nil, fmt.Errorf("searching collection %s: %w", h.Name, err)
	}

	recs := make([]seqRecord, len(results))
	for i, point := range results {
		recs[i] = parsePayload(point.GetPayload())
		recs[i].distance = 1 - point.GetScore()
	}
	sortByDistance(recs)

	span.SetAttributes(attribute.Int("results_count", len(recs)))
	span.SetStatus(codes.Ok, "success")
	return toMatches(recs), nil
}

// GetAll implements Index.
func (x *QdrantIndex) GetAll(ctx context.Context, h Handle, include Include) (b Batch, err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.GetAll")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "get_all", start, err) }(time.Now())

	span.SetAttributes(attribute.String("collection", h.Name))

	var (
		recs   []seqRecord
		offset *qdrant.PointId
	)
	for {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}

		var (
			page []*qdrant.RetrievedPoint
			next *qdrant.PointId
		)
		err := x.retryOperation(ctx, "scroll", func() error {
			var err error
			page, next, err = x.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: h.Name,
				Offset:         offset,
				Limit:          qdrant.PtrOf(x.config.ScrollPageSize),
				WithPayload:    qdrant.NewWithPayload(true),
				WithVectors:    qdrant.NewWithVectors(include.Vectors),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if isNotFound(err) {
				return Batch{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, h.Name)
			}
			return Batch{}, fmt.Errorf("scrolling collection %s: %w", h.Name, err)
		}

		for _, point := range page {
			rec := parsePayload(point.GetPayload())
			if include.Vectors {
				rec.vector = point.GetVectors().GetVector().GetData()
			}
			recs = append(recs, rec)
		}

		if next == nil || len(page) == 0 {
			break
		}
		offset = next
	}
	sortByInsertion(recs)

	span.SetAttributes(attribute.Int("record_count", len(recs)))
	span.SetStatus(codes.Ok, "success")
	return toBatch(recs, include), nil
}

// Delete implements Index.
func (x *QdrantIndex) Delete(ctx context.Context, h Handle, ids []string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Delete")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "delete", start, err) }(time.Now())

	span.SetAttributes(
		attribute.Int("id_count", len(ids)),
		attribute.String("collection", h.Name),
	)

	if len(ids) == 0 {
		return nil
	}

	err = x.retryOperation(ctx, "delete", func() error {
		_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: h.Name,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							{
								ConditionOneOf: &qdrant.Condition_Field{
									Field: &qdrant.FieldCondition{
										Key: payloadID,
										Match: &qdrant.Match{
											MatchValue: &qdrant.Match_Keywords{
												Keywords: &qdrant.RepeatedStrings{Strings: ids},
											},
										},
									},
								},
							},
						},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, h.Name)
		}
		return fmt.Errorf("deleting points from %s: %w", h.Name, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteCollection implements Index.
func (x *QdrantIndex) DeleteCollection(ctx context.Context, name string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.DeleteCollection")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "delete_collection", start, err) }(time.Now())

	span.SetAttributes(attribute.String("collection", name))

	err = x.retryOperation(ctx, "delete_collection", func() error {
		err := x.client.DeleteCollection(ctx, name)
		if isNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	if err := x.catalog.Delete(name); err != nil {
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// ListCollections implements Index.
func (x *QdrantIndex) ListCollections(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.ListCollections")
	defer span.End()

	var names []string
	err := x.retryOperation(ctx, "list_collections", func() error {
		result, err := x.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = result
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	sort.Strings(names)

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	span.SetStatus(codes.Ok, "success")
	return names, nil
}

// Close closes the Qdrant gRPC connection.
func (x *QdrantIndex) Close() error {
	if x.client == nil {
		return nil
	}
	return x.client.Close()
}

// Ensure QdrantIndex implements Index.
var _ Index = (*QdrantIndex)(nil)
