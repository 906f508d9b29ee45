package collections

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

func TestAggregate(t *testing.T) {
	b := vectorstore.Batch{
		IDs: []string{"b_chunk_0", "a_chunk_0", "b_chunk_1", "loose", "renamed_chunk_0"},
		Metadatas: []map[string]string{
			{KeyDocumentID: "b", KeyFilename: "first.txt", KeyUploadDate: "2024-01-02T00:00:00"},
			{KeyDocumentID: "a", KeyUploadDate: "2024-01-02T00:00:00"},
			{KeyDocumentID: "b", KeyFilename: "second.txt"},
			{},
			{KeyDocumentID: "custom"},
		},
	}

	docs, orphans := aggregate(b)
	assert.Equal(t, []string{"loose"}, orphans)
	assert.Len(t, docs, 3)
	assert.Equal(t, "b", docs[0].ID, "equal dates keep first-seen order")
	assert.Equal(t, "first.txt", docs[0].Filename)
	assert.Equal(t, 2, docs[0].ChunkCount)
	assert.Equal(t, "a", docs[1].ID)
	assert.Equal(t, "custom", docs[2].ID, "document_id metadata wins over the key")
}

func TestAggregate_IDsOnly(t *testing.T) {
	docs, orphans := aggregate(vectorstore.Batch{IDs: []string{"d_chunk_0", "d_chunk_1", "x"}})
	assert.Equal(t, []DocumentInfo{{ID: "d", ChunkCount: 2}}, docs)
	assert.Equal(t, []string{"x"}, orphans)
}

func TestParseUploadDate(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want time.Time
	}{
		{in: "2024-05-01T10:00:00Z", ok: true, want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2024-05-01T10:00:00.123456", ok: true, want: time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{in: "2024-05-01", ok: true, want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{in: "yesterday", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseUploadDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), got)
			}
		})
	}
}

func TestChunksOf(t *testing.T) {
	b := vectorstore.Batch{
		IDs: []string{"a_chunk_0", "a_chunk_1_chunk_0", "a_chunk_7", "ab_chunk_0", "a_chunk_2_chunk_0"},
		Metadatas: []map[string]string{
			{KeyDocumentID: "a"},
			{KeyDocumentID: "a_chunk_1"},
			{},
			{KeyDocumentID: "ab"},
			{},
		},
	}
	assert.Equal(t, []string{"a_chunk_0", "a_chunk_7"}, chunksOf(b, "a"))
	assert.Equal(t, []string{"a_chunk_2_chunk_0"}, chunksOf(b, "a_chunk_2"))
	assert.Empty(t, chunksOf(b, "zzz"))
}

func TestBuildBatch(t *testing.T) {
	b := buildBatch("doc", []string{"x", "y"}, [][]float32{{1}, {2}}, map[string]string{KeyFilename: "f", KeyDocumentID: "spoof"})
	assert.Equal(t, []string{"doc_chunk_0", "doc_chunk_1"}, b.IDs)
	assert.Equal(t, "doc", b.Metadatas[1][KeyDocumentID])
	assert.Equal(t, "1", b.Metadatas[1][KeyChunkIndex])
	assert.Equal(t, "f", b.Metadatas[0][KeyFilename])
}

func TestNameLocks(t *testing.T) {
	l := newNameLocks()
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names := []string{"a", "b"}
			if i%2 == 0 {
				names = []string{"b", "a", "a"}
			}
			unlock := l.lock(names...)
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
	assert.Zero(t, l.size())
}
