package http

import (
	"github.com/fyrsmithlabs/docuchat/internal/answer"
	"github.com/fyrsmithlabs/docuchat/internal/collections"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
	Counts   StatusCounts      `json:"counts"`
}

// StatusCounts totals the stored content.
type StatusCounts struct {
	Collections int `json:"collections"`
	Documents   int `json:"documents"`
	Chunks      int `json:"chunks"`
}

// CreateCollectionRequest is the body of POST /api/v1/collections.
type CreateCollectionRequest struct {
	Name     string            `json:"name" validate:"required,max=512"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateCollectionResponse reports the effective collection name.
type CreateCollectionResponse struct {
	Name   string             `json:"name"`
	Status collections.Status `json:"status"`
}

// ListCollectionsResponse is the body of GET /api/v1/collections.
type ListCollectionsResponse struct {
	Collections []string `json:"collections"`
	Count       int      `json:"count"`
}

// RenameCollectionRequest is the body of PATCH /api/v1/collections/:name.
type RenameCollectionRequest struct {
	NewName string `json:"new_name" validate:"required,max=512"`
}

// RenameCollectionResponse reports the collection's name after a rename.
type RenameCollectionResponse struct {
	Name string `json:"name"`
}

// AddDocumentRequest is the body of POST /api/v1/collections/:name/documents.
type AddDocumentRequest struct {
	Text       string            `json:"text"`
	DocumentID string            `json:"document_id,omitempty" validate:"omitempty,max=256"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ListDocumentsResponse is the body of GET /api/v1/collections/:name/documents.
type ListDocumentsResponse struct {
	Documents []collections.DocumentInfo `json:"documents"`
	Count     int                        `json:"count"`
}

// QueryRequest is the body of POST /api/v1/collections/:name/query.
type QueryRequest struct {
	Query string `json:"query" validate:"required"`
	K     int    `json:"k,omitempty" validate:"gte=0,lte=100"`
}

// QueryResponse holds the closest chunks, closest first.
type QueryResponse struct {
	Results []collections.Result `json:"results"`
	Count   int                  `json:"count"`
}

// AskRequest is the body of POST /api/v1/collections/:name/ask.
type AskRequest struct {
	Question string           `json:"question" validate:"required"`
	History  []answer.Message `json:"history,omitempty" validate:"dive"`
}

// SummarizeRequest is the body of POST /api/v1/summarize.
type SummarizeRequest struct {
	Text string `json:"text" validate:"required"`
}

// SummarizeResponse carries the generated summary.
type SummarizeResponse struct {
	Summary string `json:"summary"`
}
