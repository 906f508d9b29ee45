package http

import (
	"context"
)

// countContent totals documents and chunks over every collection.
// Collections that fail to load are skipped.
func countContent(ctx context.Context, store Store) (StatusCounts, error) {
	names, err := store.ListCollections(ctx)
	if err != nil {
		return StatusCounts{}, err
	}
	counts := StatusCounts{Collections: len(names)}
	for _, name := range names {
		info, err := store.GetCollectionInfo(ctx, name)
		if err != nil {
			continue
		}
		counts.Documents += info.DocumentCount
		counts.Chunks += info.ChunkCount
	}
	return counts, nil
}
