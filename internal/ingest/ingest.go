package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/sanitize"
)

// ErrRejected indicates a parsed file that cannot be stored: it has no
// text or is too large for the chat model.
var ErrRejected = errors.New("document rejected")

// DocumentStore is the part of the collection store used for ingestion.
type DocumentStore interface {
	AddDocument(ctx context.Context, collection, text string, metadata map[string]string, docID string) (collections.AddResult, error)
	ReplaceDocument(ctx context.Context, collection, text string, metadata map[string]string, docID string) (collections.AddResult, error)
	DeleteDocument(ctx context.Context, collection, docID string) (bool, error)
}

var _ DocumentStore = (*collections.Store)(nil)

// File is one upload.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// PathFile returns a File reading path from disk, named by its base name.
func PathFile(path string) File {
	return File{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// ProcessedFile describes one stored file.
type ProcessedFile struct {
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id"`
	Tokens     int    `json:"tokens"`
	Model      string `json:"model"`
	Chunks     int    `json:"chunks"`
	Redactions int    `json:"redactions,omitempty"`
}

// FailedFile describes one file that was not stored.
type FailedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// BatchResult summarises ProcessFiles.
type BatchResult struct {
	CollectionName string          `json:"collection_name"`
	SuccessCount   int             `json:"success_count"`
	TotalTokens    int             `json:"total_tokens"`
	ProcessedFiles []ProcessedFile `json:"processed_files"`
	FailedFiles    []FailedFile    `json:"failed_files"`
}

// Ingester parses files and stores them as documents.
type Ingester struct {
	store   DocumentStore
	parser  *Parser
	replace bool
	logger  *zap.Logger
}

// NewIngester creates an Ingester. With replace set, a file whose
// document id already exists replaces the stored document: chunks left
// over from the previous version are removed once the new ones are
// stored. Without it, the new chunks overwrite the old ones in place.
func NewIngester(store DocumentStore, parser *Parser, replace bool, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{store: store, parser: parser, replace: replace, logger: logger}
}

// ProcessFile parses f and adds it to collection, or to a collection
// named after the file when collection is empty. The file name is the
// document id.
func (in *Ingester) ProcessFile(ctx context.Context, collection string, f File) (_ ProcessedFile, err error) {
	ctx, span := otel.Tracer("github.com/fyrsmithlabs/docuchat/internal/ingest").Start(ctx, "ingest.ProcessFile")
	span.SetAttributes(attribute.String("filename", f.Name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	name, err := sanitize.SafeBasename(f.Name)
	if err != nil {
		return ProcessedFile{}, err
	}
	if collection == "" {
		collection = name
	}

	rc, err := f.Open()
	if err != nil {
		return ProcessedFile{}, fmt.Errorf("opening %s: %w", name, err)
	}
	parsed, err := in.parser.Parse(name, rc)
	rc.Close()
	if err != nil {
		return ProcessedFile{}, err
	}

	switch {
	case parsed.Choice.Tokens == 0 || strings.TrimSpace(parsed.Text) == "":
		return ProcessedFile{}, fmt.Errorf("%w: %s has no text", ErrRejected, name)
	case !parsed.Choice.Fits():
		return ProcessedFile{}, fmt.Errorf("%w: %s has %d tokens, split it into %d parts",
			ErrRejected, name, parsed.Choice.Tokens, parsed.Choice.Parts)
	}

	add := in.store.AddDocument
	if in.replace {
		add = in.store.ReplaceDocument
	}
	res, err := add(ctx, collection, parsed.Text, parsed.Metadata, name)
	if err != nil {
		return ProcessedFile{}, err
	}

	in.logger.Info("file ingested",
		zap.String("collection", res.Collection),
		zap.String("filename", name),
		zap.Int("tokens", parsed.Choice.Tokens),
		zap.Int("chunks", res.ChunkCount))
	return ProcessedFile{
		Filename:   name,
		DocumentID: res.DocumentID,
		Tokens:     parsed.Choice.Tokens,
		Model:      parsed.Choice.Model,
		Chunks:     res.ChunkCount,
		Redactions: len(parsed.Redactions),
	}, nil
}

// ProcessFiles adds every file to one collection, named after the first
// file when collection is empty. A failing file is recorded and does not
// stop the batch; a cancelled context does.
func (in *Ingester) ProcessFiles(ctx context.Context, collection string, files []File) BatchResult {
	if collection == "" && len(files) > 0 {
		collection = files[0].Name
	}
	res := BatchResult{
		CollectionName: sanitize.CollectionName(collection),
		ProcessedFiles: []ProcessedFile{},
		FailedFiles:    []FailedFile{},
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			res.FailedFiles = append(res.FailedFiles, FailedFile{Filename: f.Name, Reason: err.Error()})
			continue
		}
		pf, err := in.ProcessFile(ctx, collection, f)
		if err != nil {
			in.logger.Warn("file not ingested", zap.String("filename", f.Name), zap.Error(err))
			res.FailedFiles = append(res.FailedFiles, FailedFile{Filename: f.Name, Reason: err.Error()})
			continue
		}
		res.SuccessCount++
		res.TotalTokens += pf.Tokens
		res.ProcessedFiles = append(res.ProcessedFiles, pf)
	}
	return res
}
