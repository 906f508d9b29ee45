package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/answer"
	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/ingest"
)

// addTool registers a tool with metrics and logging around fn. fn returns
// the structured output and the text shown to the client.
func addTool[In, Out any](s *Server, meta ToolMetadata, fn func(ctx context.Context, in In) (Out, string, error)) {
	s.registry.Register(&meta)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: meta.Name, Description: meta.Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in In) (_ *mcp.CallToolResult, out Out, err error) {
			start := time.Now()
			s.metrics.IncrementActive(ctx, meta.Name)
			defer func() {
				s.metrics.DecrementActive(ctx, meta.Name)
				s.metrics.RecordInvocation(ctx, meta.Name, time.Since(start), err)
			}()

			out, text, err := fn(ctx, in)
			if err != nil {
				s.logger.Debug("tool failed", zap.String("tool", meta.Name), zap.Error(err))
				return nil, out, err
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: text}},
			}, out, nil
		})
}

// ===== COLLECTION TOOLS =====

type collectionInput struct {
	Collection string `json:"collection" jsonschema:"Collection name"`
}

type collectionCreateInput struct {
	Name     string            `json:"name" jsonschema:"Collection name; sanitized to letters, digits, _ and -"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"Collection metadata"`
}

type collectionCreateOutput struct {
	Name   string             `json:"name"`
	Status collections.Status `json:"status" jsonschema:"created or existing"`
}

type collectionListOutput struct {
	Collections []string `json:"collections"`
	Count       int      `json:"count"`
}

type collectionInfoOutput struct {
	Name          string                     `json:"name"`
	CreatedAt     string                     `json:"created_at,omitempty" jsonschema:"RFC3339 creation time"`
	DocumentCount int                        `json:"document_count"`
	ChunkCount    int                        `json:"chunk_count"`
	Documents     []collections.DocumentInfo `json:"documents"`
}

type collectionRenameInput struct {
	OldName string `json:"old_name" jsonschema:"Current collection name"`
	NewName string `json:"new_name" jsonschema:"New collection name; sanitized"`
}

type collectionRenameOutput struct {
	Name string `json:"name" jsonschema:"Effective name of the collection after the rename"`
}

type deleteOutput struct {
	Deleted bool `json:"deleted"`
}

func (s *Server) registerCollectionTools() {
	addTool(s, ToolMetadata{
		Name:        "collection_create",
		Description: "Create a document collection, or report that it already exists",
		Category:    CategoryCollection,
		Keywords:    []string{"new", "add"},
	}, func(ctx context.Context, in collectionCreateInput) (collectionCreateOutput, string, error) {
		name, status, err := s.store.CreateCollection(ctx, in.Name, in.Metadata)
		if err != nil {
			return collectionCreateOutput{}, "", err
		}
		return collectionCreateOutput{Name: name, Status: status}, fmt.Sprintf("Collection %s: %s", name, status), nil
	})

	addTool(s, ToolMetadata{
		Name:        "collection_list",
		Description: "List the names of all document collections",
		Category:    CategoryCollection,
	}, func(ctx context.Context, _ struct{}) (collectionListOutput, string, error) {
		names, err := s.store.ListCollections(ctx)
		if err != nil {
			return collectionListOutput{}, "", err
		}
		if names == nil {
			names = []string{}
		}
		return collectionListOutput{Collections: names, Count: len(names)}, fmt.Sprintf("%d collections", len(names)), nil
	})

	addTool(s, ToolMetadata{
		Name:        "collection_info",
		Description: "Show a collection's creation time, document count and documents",
		Category:    CategoryCollection,
		Keywords:    []string{"stats", "details"},
	}, func(ctx context.Context, in collectionInput) (collectionInfoOutput, string, error) {
		info, err := s.store.GetCollectionInfo(ctx, in.Collection)
		if err != nil {
			return collectionInfoOutput{}, "", err
		}
		out := collectionInfoOutput{
			Name:          info.Name,
			DocumentCount: info.DocumentCount,
			ChunkCount:    info.ChunkCount,
			Documents:     info.Documents,
		}
		if !info.CreatedAt.IsZero() {
			out.CreatedAt = info.CreatedAt.Format(time.RFC3339)
		}
		if out.Documents == nil {
			out.Documents = []collections.DocumentInfo{}
		}
		return out, fmt.Sprintf("Collection %s: %d documents, %d chunks", out.Name, out.DocumentCount, out.ChunkCount), nil
	})

	addTool(s, ToolMetadata{
		Name:        "collection_rename",
		Description: "Rename a collection, keeping its documents",
		Category:    CategoryCollection,
		Keywords:    []string{"move"},
	}, func(ctx context.Context, in collectionRenameInput) (collectionRenameOutput, string, error) {
		name, err := s.store.RenameCollection(ctx, in.OldName, in.NewName)
		if err != nil {
			return collectionRenameOutput{}, "", err
		}
		return collectionRenameOutput{Name: name}, fmt.Sprintf("Collection renamed to %s", name), nil
	})

	addTool(s, ToolMetadata{
		Name:        "collection_delete",
		Description: "Delete a collection and all of its documents",
		Category:    CategoryCollection,
		Keywords:    []string{"remove", "drop"},
	}, func(ctx context.Context, in collectionInput) (deleteOutput, string, error) {
		if err := s.store.DeleteCollection(ctx, in.Collection); err != nil {
			return deleteOutput{}, "", err
		}
		return deleteOutput{Deleted: true}, fmt.Sprintf("Collection %s deleted", in.Collection), nil
	})
}

// ===== DOCUMENT TOOLS =====

type documentAddInput struct {
	Collection string            `json:"collection" jsonschema:"Collection name; created when missing"`
	Text       string            `json:"text" jsonschema:"Document text"`
	DocumentID string            `json:"document_id,omitempty" jsonschema:"Document id; generated when empty"`
	Metadata   map[string]string `json:"metadata,omitempty" jsonschema:"Metadata stored on every chunk"`
}

type documentListOutput struct {
	Documents []collections.DocumentInfo `json:"documents"`
	Count     int                        `json:"count"`
}

type documentDeleteInput struct {
	Collection string `json:"collection" jsonschema:"Collection name"`
	DocumentID string `json:"document_id" jsonschema:"Document id"`
}

type documentQueryInput struct {
	Collection string `json:"collection" jsonschema:"Collection name"`
	Query      string `json:"query" jsonschema:"Text to search for"`
	K          int    `json:"k,omitempty" jsonschema:"Maximum number of chunks (default: 3)"`
}

type documentQueryOutput struct {
	Results []collections.Result `json:"results"`
	Count   int                  `json:"count"`
}

func (s *Server) registerDocumentTools() {
	addTool(s, ToolMetadata{
		Name:        "document_add",
		Description: "Chunk, embed and store a text document in a collection",
		Category:    CategoryDocument,
		Keywords:    []string{"upload", "index", "store"},
	}, func(ctx context.Context, in documentAddInput) (collections.AddResult, string, error) {
		res, err := s.store.AddDocument(ctx, in.Collection, in.Text, in.Metadata, in.DocumentID)
		if err != nil {
			return collections.AddResult{}, "", err
		}
		return res, fmt.Sprintf("Stored %s in %s as %d chunks", res.DocumentID, res.Collection, res.ChunkCount), nil
	})

	addTool(s, ToolMetadata{
		Name:        "document_list",
		Description: "List the documents of a collection, oldest upload first",
		Category:    CategoryDocument,
	}, func(ctx context.Context, in collectionInput) (documentListOutput, string, error) {
		docs, err := s.store.ListDocuments(ctx, in.Collection)
		if err != nil {
			return documentListOutput{}, "", err
		}
		if docs == nil {
			docs = []collections.DocumentInfo{}
		}
		return documentListOutput{Documents: docs, Count: len(docs)}, fmt.Sprintf("%d documents", len(docs)), nil
	})

	addTool(s, ToolMetadata{
		Name:        "document_delete",
		Description: "Delete a document and all of its chunks from a collection",
		Category:    CategoryDocument,
		Keywords:    []string{"remove"},
	}, func(ctx context.Context, in documentDeleteInput) (deleteOutput, string, error) {
		deleted, err := s.store.DeleteDocument(ctx, in.Collection, in.DocumentID)
		if err != nil {
			return deleteOutput{}, "", err
		}
		if !deleted {
			return deleteOutput{}, fmt.Sprintf("No document %s in %s", in.DocumentID, in.Collection), nil
		}
		return deleteOutput{Deleted: true}, fmt.Sprintf("Document %s deleted", in.DocumentID), nil
	})

	addTool(s, ToolMetadata{
		Name:        "document_query",
		Description: "Find the chunks of a collection most similar to a query",
		Category:    CategoryDocument,
		Keywords:    []string{"search", "similarity", "retrieve"},
	}, func(ctx context.Context, in documentQueryInput) (documentQueryOutput, string, error) {
		results, err := s.store.QueryDocuments(ctx, in.Collection, in.Query, in.K)
		if err != nil {
			return documentQueryOutput{}, "", err
		}
		if results == nil {
			results = []collections.Result{}
		}
		return documentQueryOutput{Results: results, Count: len(results)}, fmt.Sprintf("%d chunks found", len(results)), nil
	})
}

// ===== CHAT TOOLS =====

type askInput struct {
	Collection string           `json:"collection" jsonschema:"Collection to answer from"`
	Question   string           `json:"question" jsonschema:"Question about the documents"`
	History    []answer.Message `json:"history,omitempty" jsonschema:"Earlier turns, oldest first"`
}

type summarizeInput struct {
	Text string `json:"text" jsonschema:"Document text to summarize"`
}

type summarizeOutput struct {
	Summary string `json:"summary"`
}

func (s *Server) registerChatTools() {
	addTool(s, ToolMetadata{
		Name:        "ask",
		Description: "Answer a question from the most relevant chunks of a collection",
		Category:    CategoryChat,
		Keywords:    []string{"chat", "rag", "question"},
	}, func(ctx context.Context, in askInput) (answer.Answer, string, error) {
		a, err := s.answer.Ask(ctx, in.Collection, in.History, in.Question, nil)
		if err != nil {
			return answer.Answer{}, "", err
		}
		if a.Sources == nil {
			a.Sources = []collections.Result{}
		}
		return a, a.Text, nil
	})

	addTool(s, ToolMetadata{
		Name:        "summarize",
		Description: "Summarize a document as bullet points",
		Category:    CategoryChat,
		Keywords:    []string{"recap", "summary"},
	}, func(ctx context.Context, in summarizeInput) (summarizeOutput, string, error) {
		summary, err := s.answer.Summarize(ctx, in.Text, nil)
		if err != nil {
			return summarizeOutput{}, "", err
		}
		return summarizeOutput{Summary: summary}, summary, nil
	})
}

// ===== INGEST TOOLS =====

type ingestInput struct {
	Collection string   `json:"collection,omitempty" jsonschema:"Target collection; defaults to the first file's name"`
	Paths      []string `json:"paths" jsonschema:"Files to ingest (txt, md, html, pdf, docx)"`
}

func (s *Server) registerIngestTools() {
	addTool(s, ToolMetadata{
		Name:        "ingest_files",
		Description: "Parse files from disk and add them to a collection",
		Category:    CategoryIngest,
		Keywords:    []string{"upload", "pdf", "import"},
	}, func(ctx context.Context, in ingestInput) (ingest.BatchResult, string, error) {
		if len(in.Paths) == 0 {
			return ingest.BatchResult{}, "", fmt.Errorf("%w: paths is empty", collections.ErrValidation)
		}
		files := make([]ingest.File, len(in.Paths))
		for i, p := range in.Paths {
			files[i] = ingest.PathFile(p)
		}
		res := s.ingester.ProcessFiles(ctx, in.Collection, files)
		return res, fmt.Sprintf("%d of %d files added to %s (%d tokens)",
			res.SuccessCount, len(files), res.CollectionName, res.TotalTokens), nil
	})
}

// ===== TOOL SEARCH =====

type toolSearchInput struct {
	Query    string       `json:"query" jsonschema:"Search text or regular expression matched against tool names, descriptions and keywords"`
	Category ToolCategory `json:"category,omitempty" jsonschema:"Restrict to one category: collection, document, chat, ingest"`
	Limit    int          `json:"limit,omitempty" jsonschema:"Maximum results (default: 5)"`
}

type toolSearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

func (s *Server) registerSearchTools() {
	addTool(s, ToolMetadata{
		Name:        "tool_search",
		Description: "Find docuchat tools by name, description or keyword",
		Category:    CategorySearch,
		Keywords:    []string{"discover", "help"},
	}, func(_ context.Context, in toolSearchInput) (toolSearchOutput, string, error) {
		if in.Limit <= 0 {
			in.Limit = 5
		}
		results := s.registry.Search(in.Query, in.Category)
		if len(results) > in.Limit {
			results = results[:in.Limit]
		}
		if results == nil {
			results = []SearchResult{}
		}
		return toolSearchOutput{Query: in.Query, Results: results, Count: len(results)},
			fmt.Sprintf("%d tools match %q", len(results), in.Query), nil
	})
}
