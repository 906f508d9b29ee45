package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/docuchat/internal/sanitize"
)

// Sentinel errors for vector index operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrBatchLengthMismatch is returned when the parallel slices of a
	// Batch differ in length.
	ErrBatchLengthMismatch = errors.New("batch length mismatch")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// SeqKey is the reserved metadata key holding the insertion sequence of a
// record. Adapters write it on Add and strip it from everything they return.
const SeqKey = "_seq"

// Handle identifies an existing collection.
type Handle struct {
	Name     string
	Metadata map[string]string
}

// Batch is a set of records expressed as parallel slices. Any slice not
// requested through Include is left nil by GetAll.
type Batch struct {
	IDs       []string
	Vectors   [][]float32
	Texts     []string
	Metadatas []map[string]string
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.IDs) }

func (b Batch) validate() error {
	n := len(b.IDs)
	if len(b.Vectors) != n || len(b.Texts) != n || len(b.Metadatas) != n {
		return fmt.Errorf("%w: ids=%d vectors=%d texts=%d metadatas=%d",
			ErrBatchLengthMismatch, n, len(b.Vectors), len(b.Texts), len(b.Metadatas))
	}
	return nil
}

// Include selects the optional fields returned by GetAll. IDs are always
// returned.
type Include struct {
	Vectors   bool
	Texts     bool
	Metadatas bool
}

// IncludeAll requests every field.
var IncludeAll = Include{Vectors: true, Texts: true, Metadatas: true}

// Match is a single similarity search hit.
type Match struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Distance is 1 - cosine similarity; smaller is closer.
	Distance float32 `json:"distance"`
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates one embedding per input text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index is the contract every vector database adapter satisfies.
//
// Record ids are unique within a collection; adding an existing id
// overwrites it. Query and GetAll never return the SeqKey metadata entry.
type Index interface {
	// CreateOrGet returns the named collection, creating it with metadata
	// when absent. created reports whether this call created it; metadata
	// of an existing collection is left untouched.
	CreateOrGet(ctx context.Context, name string, metadata map[string]string) (h Handle, created bool, err error)

	// Get returns the named collection or ErrCollectionNotFound.
	Get(ctx context.Context, name string) (Handle, error)

	// Add upserts the records in b.
	Add(ctx context.Context, h Handle, b Batch) error

	// Query returns up to k records ordered by ascending distance. Ties keep
	// insertion order. k larger than the collection size is clamped.
	Query(ctx context.Context, h Handle, vector []float32, k int) ([]Match, error)

	// GetAll returns every record in insertion order.
	GetAll(ctx context.Context, h Handle, include Include) (Batch, error)

	// Delete removes the records with the given ids. Unknown ids are ignored.
	Delete(ctx context.Context, h Handle, ids []string) error

	// DeleteCollection removes a collection and all of its records.
	// Deleting a missing collection is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections returns all collection names in lexical order.
	ListCollections(ctx context.Context) ([]string, error)

	// Close releases resources held by the adapter.
	Close() error
}

// ValidateCollectionName checks that name is a valid collection name.
func ValidateCollectionName(name string) error {
	if !sanitize.IsCollectionName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if k == SeqKey {
			continue
		}
		out[k] = v
	}
	return out
}
