package collections

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

// flakyIndex fails selected operations of the wrapped index.
type flakyIndex struct {
	vectorstore.Index
	failAdd    bool
	failDelete map[string]bool
}

func (f *flakyIndex) Add(ctx context.Context, h vectorstore.Handle, b vectorstore.Batch) error {
	if f.failAdd {
		return errors.New("disk full")
	}
	return f.Index.Add(ctx, h, b)
}

func (f *flakyIndex) DeleteCollection(ctx context.Context, name string) error {
	if f.failDelete[name] {
		return errors.New("index busy")
	}
	return f.Index.DeleteCollection(ctx, name)
}

type docKey struct {
	ID         string
	Filename   string
	TokenCount int
	ChunkCount int
}

func docSet(docs []DocumentInfo) []docKey {
	out := make([]docKey, len(docs))
	for i, d := range docs {
		out[i] = docKey{d.ID, d.Filename, d.TokenCount, d.ChunkCount}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func seedRenameSource(t *testing.T, s *Store) []DocumentInfo {
	t.Helper()
	ctx := context.Background()
	_, err := s.AddDocument(ctx, "alpha", "aaaabbbbcc", map[string]string{KeyFilename: "one.txt", KeyTokenCount: "3"}, "one")
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, "alpha", "dddd", map[string]string{KeyFilename: "two.txt", KeyTokenCount: "1"}, "two")
	require.NoError(t, err)
	docs, err := s.ListDocuments(ctx, "alpha")
	require.NoError(t, err)
	return docs
}

func TestRenameCollection_PreservesContent(t *testing.T) {
	ctx := context.Background()
	rec := &Recorder{}
	s, _ := newTestStore(t, 4, WithNotifier(rec))
	before := seedRenameSource(t, s)
	srcInfo, err := s.GetCollectionInfo(ctx, "alpha")
	require.NoError(t, err)

	srcHandle, err := s.Index().Get(ctx, "alpha")
	require.NoError(t, err)
	srcAll, err := s.Index().GetAll(ctx, srcHandle, vectorstore.IncludeAll)
	require.NoError(t, err)

	final, err := s.RenameCollection(ctx, "alpha", "Beta Docs")
	require.NoError(t, err)
	assert.Equal(t, "Beta_Docs", final)

	after, err := s.ListDocuments(ctx, "Beta_Docs")
	require.NoError(t, err)
	assert.Equal(t, docSet(before), docSet(after))

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Beta_Docs"}, names)

	dstInfo, err := s.GetCollectionInfo(ctx, "Beta_Docs")
	require.NoError(t, err)
	assert.True(t, srcInfo.CreatedAt.Equal(dstInfo.CreatedAt), "created_at is carried over")

	dstHandle, err := s.Index().Get(ctx, "Beta_Docs")
	require.NoError(t, err)
	dstAll, err := s.Index().GetAll(ctx, dstHandle, vectorstore.IncludeAll)
	require.NoError(t, err)
	assert.Equal(t, srcAll.IDs, dstAll.IDs)
	assert.Equal(t, srcAll.Texts, dstAll.Texts)
	assert.Equal(t, srcAll.Metadatas, dstAll.Metadatas)
	for i := range srcAll.Vectors {
		assert.InDeltaSlice(t, srcAll.Vectors[i], dstAll.Vectors[i], 1e-6)
	}

	assert.Empty(t, s.Journal().Pending())
	assert.Contains(t, rec.Types(), EventCollectionRenamed)
}

func TestRenameCollection_EmptySource(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 500)
	_, _, err := s.CreateCollection(ctx, "empty", nil)
	require.NoError(t, err)

	final, err := s.RenameCollection(ctx, "empty", "still-empty")
	require.NoError(t, err)
	assert.Equal(t, "still-empty", final)

	info, err := s.GetCollectionInfo(ctx, "still-empty")
	require.NoError(t, err)
	assert.Zero(t, info.ChunkCount)
}

func TestRenameCollection_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 500)
	_, err := s.AddDocument(ctx, "x", "from x", nil, "dx")
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, "y", "from y", nil, "dy")
	require.NoError(t, err)

	t.Run("missing source", func(t *testing.T) {
		_, err := s.RenameCollection(ctx, "ghost", "z")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("same sanitized name is a no-op", func(t *testing.T) {
		final, err := s.RenameCollection(ctx, "x", "x.txt")
		require.NoError(t, err)
		assert.Equal(t, "x_doc", final)
	})

	t.Run("target exists", func(t *testing.T) {
		_, err := s.RenameCollection(ctx, "x", "y")
		assert.ErrorIs(t, err, ErrAlreadyExists)

		for _, name := range []string{"x", "y"} {
			info, err := s.GetCollectionInfo(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, 1, info.DocumentCount, name)
		}
	})
}

func TestRenameCollection_CopyFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyIndex{Index: newTestIndex(t)}
	s, err := NewStore(flaky, &fakeEmbedder{}, DefaultConfig())
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, "alpha", "content", nil, "doc")
	require.NoError(t, err)

	flaky.failAdd = true
	_, err = s.RenameCollection(ctx, "alpha", "beta")
	require.ErrorIs(t, err, ErrUpstream)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)
	assert.Empty(t, s.Journal().Pending())
}

func TestRenameCollection_DeleteFailureLeavesBothAndResumes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	flaky := &flakyIndex{Index: newTestIndex(t), failDelete: map[string]bool{"alpha": true}}
	cfg := DefaultConfig()
	cfg.JournalDir = dir
	s, err := NewStore(flaky, &fakeEmbedder{}, cfg)
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, "alpha", "content", nil, "doc")
	require.NoError(t, err)

	_, err = s.RenameCollection(ctx, "alpha", "beta")
	require.ErrorIs(t, err, ErrUpstream)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names, "stale source stays next to the full copy")

	pending := s.Journal().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, PhaseCopied, pending[0].Phase)
	assert.Equal(t, 1, pending[0].Records)

	// A fresh store over the same journal and index finishes the move.
	flaky.failDelete = nil
	s2, err := NewStore(flaky, &fakeEmbedder{}, cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	repaired, err := s2.ResumeRenames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	names, err = s2.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, names)
	assert.Empty(t, s2.Journal().Pending())
}

func TestResumeRenames_RollsBackUnfinishedCopy(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 500)
	_, err := s.AddDocument(ctx, "alpha", "content", nil, "doc")
	require.NoError(t, err)

	// Simulate a crash in the middle of the copy.
	_, err = s.Journal().Begin("alpha", "beta")
	require.NoError(t, err)
	_, _, err = s.Index().CreateOrGet(ctx, "beta", nil)
	require.NoError(t, err)

	repaired, err := s.ResumeRenames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)
}

func TestResumeRenames_SourceGoneKeepsTarget(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 500)
	_, _, err := s.CreateCollection(ctx, "beta", nil)
	require.NoError(t, err)
	_, err = s.Journal().Begin("alpha", "beta")
	require.NoError(t, err)

	repaired, err := s.ResumeRenames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, names)
}

func TestRenameCollection_PendingRenameRefusesWrites(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.JournalDir = t.TempDir()
	flaky := &flakyIndex{Index: newTestIndex(t), failDelete: map[string]bool{"alpha": true}}
	s, err := NewStore(flaky, &fakeEmbedder{}, cfg)
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, "alpha", "content", nil, "doc")
	require.NoError(t, err)

	_, err = s.RenameCollection(ctx, "alpha", "beta")
	require.ErrorIs(t, err, ErrUpstream)

	_, err = s.AddDocument(ctx, "alpha", "written after the copy", nil, "late")
	assert.ErrorIs(t, err, ErrRenamePending)
	assert.ErrorIs(t, err, ErrUpstream)
	_, err = s.AddDocument(ctx, "beta", "written after the copy", nil, "late")
	assert.ErrorIs(t, err, ErrRenamePending)
	_, err = s.DeleteDocument(ctx, "alpha", "doc")
	assert.ErrorIs(t, err, ErrRenamePending)
	assert.ErrorIs(t, s.DeleteCollection(ctx, "beta"), ErrRenamePending)

	docs, err := s.ListDocuments(ctx, "alpha")
	require.NoError(t, err, "reads still work")
	assert.Len(t, docs, 1)

	flaky.failDelete = nil
	s2, err := NewStore(flaky, &fakeEmbedder{}, cfg)
	require.NoError(t, err)
	repaired, err := s2.ResumeRenames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	names, err := s2.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, names)
	docs, err = s2.ListDocuments(ctx, "beta")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc", docs[0].ID)
}

func TestRenameCollection_WriteFinishesPendingRename(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyIndex{Index: newTestIndex(t), failDelete: map[string]bool{"alpha": true}}
	s, err := NewStore(flaky, &fakeEmbedder{}, DefaultConfig())
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, "alpha", "content", nil, "doc")
	require.NoError(t, err)

	_, err = s.RenameCollection(ctx, "alpha", "beta")
	require.ErrorIs(t, err, ErrUpstream)

	flaky.failDelete = nil
	_, err = s.AddDocument(ctx, "beta", "written after the repair", nil, "late")
	require.NoError(t, err)

	assert.Empty(t, s.Journal().Pending())
	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, names)

	info, err := s.GetCollectionInfo(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 2, info.DocumentCount)
}

func TestRenameCollection_RollbackFailureProtectsTarget(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyIndex{Index: newTestIndex(t), failDelete: map[string]bool{"beta": true}}
	s, err := NewStore(flaky, &fakeEmbedder{}, DefaultConfig())
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, "alpha", "content", nil, "doc")
	require.NoError(t, err)

	flaky.failAdd = true
	_, err = s.RenameCollection(ctx, "alpha", "beta")
	require.ErrorIs(t, err, ErrUpstream)
	flaky.failAdd = false

	pending := s.Journal().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, PhaseCopying, pending[0].Phase)

	_, err = s.AddDocument(ctx, "beta", "would be lost on rollback", nil, "late")
	assert.ErrorIs(t, err, ErrRenamePending)

	flaky.failDelete = nil
	repaired, err := s.ResumeRenames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)
}
