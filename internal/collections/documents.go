package collections

import (
	"sort"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/docuchat/internal/chunkid"
	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

func buildBatch(docID string, chunks []string, vectors [][]float32, metadata map[string]string) vectorstore.Batch {
	b := vectorstore.Batch{
		IDs:       make([]string, len(chunks)),
		Vectors:   vectors,
		Texts:     chunks,
		Metadatas: make([]map[string]string, len(chunks)),
	}
	for i := range chunks {
		m := make(map[string]string, len(metadata)+2)
		for k, v := range metadata {
			m[k] = v
		}
		m[KeyDocumentID] = docID
		m[KeyChunkIndex] = strconv.Itoa(i)

		b.IDs[i] = chunkid.Encode(docID, i)
		b.Metadatas[i] = m
	}
	return b
}

// documentOf attributes a chunk to its document: the document_id metadata
// when present, else the id decoded from the chunk key.
func documentOf(id string, metadata map[string]string) (string, bool) {
	if d := metadata[KeyDocumentID]; d != "" {
		return d, true
	}
	d, _, ok := chunkid.Decode(id)
	return d, ok
}

func metadataAt(b vectorstore.Batch, i int) map[string]string {
	if i < len(b.Metadatas) {
		return b.Metadatas[i]
	}
	return nil
}

// aggregate groups the chunks of b into documents. The first chunk seen
// for a document supplies its descriptive fields.
func aggregate(b vectorstore.Batch) (docs []DocumentInfo, orphans []string) {
	index := make(map[string]int)
	docs = []DocumentInfo{}
	for i, id := range b.IDs {
		m := metadataAt(b, i)
		docID, ok := documentOf(id, m)
		if !ok {
			orphans = append(orphans, id)
			continue
		}
		pos, seen := index[docID]
		if !seen {
			pos = len(docs)
			index[docID] = pos
			docs = append(docs, DocumentInfo{
				ID:         docID,
				Filename:   m[KeyFilename],
				UploadDate: m[KeyUploadDate],
				TokenCount: atoiOrZero(m[KeyTokenCount]),
				Model:      m[KeyModel],
			})
		}
		docs[pos].ChunkCount++
	}
	sortByUploadDate(docs)
	return docs, orphans
}

// sortByUploadDate orders documents by upload_date ascending. Documents
// without a parseable date go last; first-seen order breaks ties.
func sortByUploadDate(docs []DocumentInfo) {
	keys := make([]time.Time, len(docs))
	valid := make([]bool, len(docs))
	for i, d := range docs {
		keys[i], valid[i] = parseUploadDate(d.UploadDate)
	}
	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if valid[ia] != valid[ib] {
			return valid[ia]
		}
		return valid[ia] && keys[ia].Before(keys[ib])
	})
	sorted := make([]DocumentInfo, len(docs))
	for i, j := range order {
		sorted[i] = docs[j]
	}
	copy(docs, sorted)
}

func parseUploadDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// chunksOf returns the ids of every chunk of docID. Chunks carrying
// document_id metadata match on it exactly; older chunks without it match
// when their key decodes to docID.
func chunksOf(b vectorstore.Batch, docID string) []string {
	var ids []string
	for i, id := range b.IDs {
		if d := metadataAt(b, i)[KeyDocumentID]; d != "" {
			if d == docID {
				ids = append(ids, id)
			}
			continue
		}
		if chunkid.BelongsTo(id, docID) {
			ids = append(ids, id)
		}
	}
	return ids
}

func sample(ids []string, n int) []string {
	if len(ids) <= n {
		return ids
	}
	return ids[:n]
}
