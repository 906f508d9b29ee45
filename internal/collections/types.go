package collections

import (
	"strconv"
	"time"

	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

// Metadata keys written on chunks and collections.
const (
	KeyDocumentID = "document_id"
	KeyChunkIndex = "chunk_index"
	KeyFilename   = "filename"
	KeyUploadDate = "upload_date"
	KeyTokenCount = "token_count"
	KeyModel      = "model"
	KeyCreatedAt  = "created_at"
)

// DefaultK is the number of chunks returned by QueryDocuments when the
// caller does not ask for a specific number.
const DefaultK = 3

// DefaultDocumentPrefix prefixes generated document ids.
const DefaultDocumentPrefix = "chunk"

// Status tells whether an operation created its collection or found it.
type Status string

const (
	StatusCreated  Status = "created"
	StatusExisting Status = "existing"
)

func statusOf(created bool) Status {
	if created {
		return StatusCreated
	}
	return StatusExisting
}

// AddResult describes the outcome of AddDocument.
//
// When the text produced no chunks, DocumentID is empty, ChunkCount is 0
// and nothing was written besides the collection itself.
type AddResult struct {
	DocumentID string `json:"document_id,omitempty"`
	Collection string `json:"collection"`
	ChunkCount int    `json:"chunk_count"`
	Status     Status `json:"status"`
}

// DocumentInfo is a document reconstructed from its chunks.
type DocumentInfo struct {
	ID         string `json:"id"`
	Filename   string `json:"filename,omitempty"`
	UploadDate string `json:"upload_date,omitempty"`
	TokenCount int    `json:"token_count"`
	Model      string `json:"model,omitempty"`
	ChunkCount int    `json:"chunk_count"`
}

// CollectionInfo summarises a collection.
type CollectionInfo struct {
	Name          string         `json:"name"`
	CreatedAt     time.Time      `json:"created_at"`
	DocumentCount int            `json:"document_count"`
	ChunkCount    int            `json:"chunk_count"`
	Documents     []DocumentInfo `json:"documents"`
}

// Result is one ranked chunk returned by QueryDocuments.
type Result = vectorstore.Match

func parseCreatedAt(h vectorstore.Handle) time.Time {
	t, err := time.Parse(time.RFC3339, h.Metadata[KeyCreatedAt])
	if err != nil {
		return time.Time{}
	}
	return t
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
