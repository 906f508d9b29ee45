//go:build cgo

package embeddings

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutONNX(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}
	if NewRuntimeInstaller(nil).LibraryPath() == "" {
		if _, err := os.Stat("/usr/lib/libonnxruntime.so"); os.IsNotExist(err) {
			t.Skip("ONNX runtime not available")
		}
	}
}

func TestNewFastEmbedProvider_UnsupportedModel(t *testing.T) {
	_, err := NewFastEmbedProvider(context.Background(), FastEmbedConfig{Model: "nonexistent-model"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFastEmbedProvider_Embed(t *testing.T) {
	skipWithoutONNX(t)

	p, err := NewFastEmbedProvider(context.Background(), FastEmbedConfig{CacheDir: t.TempDir()}, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 384, p.Dimension())

	vectors, err := p.EmbedDocuments(context.Background(), []string{"first passage", "second passage"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 384)

	query, err := p.EmbedQuery(context.Background(), "a question")
	require.NoError(t, err)
	assert.Len(t, query, 384)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}
