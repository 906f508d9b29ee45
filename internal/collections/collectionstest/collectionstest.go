// Package collectionstest provides an in-memory collection store for
// tests of packages built on top of it.
package collectionstest

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

// Dim is the vector size of HashEmbedder.
const Dim = 8

// HashEmbedder derives a unit vector from a hash of the text. Equal texts
// embed identically; nothing else about the geometry is meaningful.
type HashEmbedder struct{}

var _ vectorstore.Embedder = HashEmbedder{}

// Vector returns the embedding of text.
func (HashEmbedder) Vector(text string) []float32 {
	v := make([]float32, Dim)
	var norm float64
	for i := range v {
		h := fnv.New32a()
		fmt.Fprintf(h, "%d:%s", i, text)
		v[i] = float32(h.Sum32()%1000) + 1
		norm += float64(v[i] * v[i])
	}
	for i := range v {
		v[i] /= float32(math.Sqrt(norm))
	}
	return v
}

// EmbedDocuments implements vectorstore.Embedder.
func (e HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.Vector(t)
	}
	return out, nil
}

// EmbedQuery implements vectorstore.Embedder.
func (e HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.Vector(text), nil
}

// NewStore returns a store over an in-memory chromem index, closed when
// the test ends.
func NewStore(t testing.TB, opts ...collections.Option) *collections.Store {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{VectorSize: Dim}, zap.NewNop())
	require.NoError(t, err)

	s, err := collections.NewStore(idx, HashEmbedder{}, collections.DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
