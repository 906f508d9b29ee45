package embeddings

import (
	"context"
	"fmt"
)

// Batched splits EmbedDocuments calls into requests of at most Size texts.
// Servers such as TEI reject batches above their configured maximum.
type Batched struct {
	Provider
	Size int
}

// NewBatched wraps p. A non-positive size disables splitting.
func NewBatched(p Provider, size int) *Batched {
	return &Batched{Provider: p, Size: size}
}

// EmbedDocuments embeds texts in order, one batch at a time.
func (b *Batched) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if b.Size <= 0 || len(texts) <= b.Size {
		return b.Provider.EmbedDocuments(ctx, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.Size {
		end := start + b.Size
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := b.Provider.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}
