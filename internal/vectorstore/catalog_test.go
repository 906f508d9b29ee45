package vectorstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCatalog_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	c, err := OpenCatalog(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Put(CatalogEntry{Name: "b", Metadata: map[string]string{"k": "v"}}))
	require.NoError(t, c.Put(CatalogEntry{Name: "a"}))
	require.NoError(t, c.SetDimension("b", 384))
	require.NoError(t, c.SetDimension("b", 1536), "dimension is only set once")

	reopened, err := OpenCatalog(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, reopened.Names())

	e, ok := reopened.Get("b")
	require.True(t, ok)
	assert.Equal(t, "v", e.Metadata["k"])
	assert.Equal(t, 384, e.Dimension)

	require.NoError(t, reopened.Delete("b"))
	require.NoError(t, reopened.Delete("b"))
	_, ok = reopened.Get("b")
	assert.False(t, ok)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp.*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCatalog_GetReturnsCopy(t *testing.T) {
	c, err := OpenCatalog("", nil)
	require.NoError(t, err)
	require.NoError(t, c.Put(CatalogEntry{Name: "a", Metadata: map[string]string{"k": "v"}}))

	e, _ := c.Get("a")
	e.Metadata["k"] = "mutated"

	again, _ := c.Get("a")
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestCatalog_CorruptFileIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalogFile), []byte("not gob"), 0600))

	c, err := OpenCatalog(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, c.Names())

	require.NoError(t, c.Put(CatalogEntry{Name: "fresh"}))
	reopened, err := OpenCatalog(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, reopened.Names())
}
