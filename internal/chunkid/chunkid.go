// Package chunkid encodes the relationship between a chunk and its document
// into a single record key of the form "{document_id}_chunk_{index}".
//
// Chunk records also carry document_id and chunk_index as metadata; the key
// format is kept so that records written without that metadata can still be
// attributed to a document.
package chunkid

import (
	"strconv"
	"strings"
)

// Delimiter separates the document id from the chunk index.
const Delimiter = "_chunk_"

// Encode returns the record key for chunk index of document docID.
func Encode(docID string, index int) string {
	return docID + Delimiter + strconv.Itoa(index)
}

// Decode splits chunkID on the last Delimiter.
//
// ok is false when the delimiter is missing or the suffix is not a
// non-negative integer; in that case docID is the whole input and index
// is -1, and the record is treated as an orphan.
//
// The last delimiter wins, so Decode(Encode("a_chunk_1", 2)) yields
// ("a_chunk_1", 2). Prefix matching is not safe for such ids: the key
// "a_chunk_1_chunk_2" also starts with "a_chunk_".
func Decode(chunkID string) (docID string, index int, ok bool) {
	i := strings.LastIndex(chunkID, Delimiter)
	if i < 0 {
		return chunkID, -1, false
	}
	suffix := chunkID[i+len(Delimiter):]
	if suffix == "" || strings.TrimLeft(suffix, "0123456789") != "" {
		return chunkID, -1, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return chunkID, -1, false
	}
	return chunkID[:i], n, true
}

// BelongsTo reports whether chunkID decodes to document docID. Unlike a
// "{docID}_chunk_" prefix test it does not claim the chunks of a document
// whose id itself starts with docID+Delimiter.
func BelongsTo(chunkID, docID string) bool {
	d, _, ok := Decode(chunkID)
	return ok && d == docID
}
