package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/docuchat/internal/answer"
	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/collections/collectionstest"
	"github.com/fyrsmithlabs/docuchat/internal/ingest"
	"github.com/fyrsmithlabs/docuchat/internal/tokens"
)

type echoModel struct{}

func (echoModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	last := msgs[len(msgs)-1].Parts[0].(llms.TextContent).Text
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "echo: " + last}}}, nil
}

func (m echoModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientT, serverT := mcp.NewInMemoryTransports()

	ss, err := s.Connect(ctx, serverT)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

// call invokes a tool and decodes its structured output into out.
func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		data, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return res
}

func textOf(res *mcp.CallToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(*mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *collections.Store) {
	t.Helper()
	store := collectionstest.NewStore(t)
	s, err := NewServer(Config{}, store, opts...)
	require.NoError(t, err)
	return s, store
}

func TestNewServer_RequiresStore(t *testing.T) {
	_, err := NewServer(Config{}, nil)
	assert.Error(t, err)
}

func TestServer_ToolSet(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, []string{
		"collection_create", "collection_delete", "collection_info", "collection_list", "collection_rename",
		"document_add", "document_delete", "document_list", "document_query", "tool_search",
	}, s.Registry().Names())

	svc, err := answer.NewService(nil, echoModel{}, answer.Config{}, nil)
	require.NoError(t, err)
	s, _ = newTestServer(t, WithAnswer(svc))
	_, ok := s.Registry().Get("ask")
	assert.True(t, ok)

	cs := connect(t, s)
	list, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, list.Tools, s.Registry().Count())
}

func TestServer_CollectionLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	cs := connect(t, s)

	var created collectionCreateOutput
	call(t, cs, "collection_create", map[string]any{"name": "Team Notes.txt"}, &created)
	assert.Equal(t, collectionCreateOutput{Name: "Team_Notes", Status: collections.StatusCreated}, created)

	var added collections.AddResult
	res := call(t, cs, "document_add", map[string]any{
		"collection":  "Team_Notes",
		"text":        "The offsite is in Lisbon this year.",
		"document_id": "offsite.md",
	}, &added)
	assert.Equal(t, "offsite.md", added.DocumentID)
	assert.Equal(t, 1, added.ChunkCount)
	assert.Contains(t, textOf(res), "offsite.md")

	var info collectionInfoOutput
	call(t, cs, "collection_info", map[string]any{"collection": "Team_Notes"}, &info)
	assert.Equal(t, 1, info.DocumentCount)
	assert.NotEmpty(t, info.CreatedAt)

	var found documentQueryOutput
	call(t, cs, "document_query", map[string]any{"collection": "Team_Notes", "query": "The offsite is in Lisbon this year."}, &found)
	require.Equal(t, 1, found.Count)
	assert.Equal(t, "offsite.md_chunk_0", found.Results[0].ID)

	var renamed collectionRenameOutput
	call(t, cs, "collection_rename", map[string]any{"old_name": "Team_Notes", "new_name": "team"}, &renamed)
	assert.Equal(t, "team", renamed.Name)

	var listed collectionListOutput
	call(t, cs, "collection_list", map[string]any{}, &listed)
	assert.Equal(t, []string{"team"}, listed.Collections)

	var deleted deleteOutput
	call(t, cs, "document_delete", map[string]any{"collection": "team", "document_id": "offsite.md"}, &deleted)
	assert.True(t, deleted.Deleted)

	var docs documentListOutput
	call(t, cs, "document_list", map[string]any{"collection": "team"}, &docs)
	assert.Zero(t, docs.Count)

	call(t, cs, "collection_delete", map[string]any{"collection": "team"}, &deleted)
	call(t, cs, "collection_list", map[string]any{}, &listed)
	assert.Empty(t, listed.Collections)
}

func TestServer_ToolErrors(t *testing.T) {
	s, _ := newTestServer(t)
	cs := connect(t, s)

	res := call(t, cs, "collection_info", map[string]any{"collection": "missing"}, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(res), "not found")

	res = call(t, cs, "document_add", map[string]any{"collection": "c", "text": "x", "document_id": "bad\x00id"}, nil)
	assert.True(t, res.IsError)
}

func TestServer_Ask(t *testing.T) {
	store := collectionstest.NewStore(t)
	svc, err := answer.NewService(store, echoModel{}, answer.Config{}, nil)
	require.NoError(t, err)
	s, err := NewServer(Config{}, store, WithAnswer(svc))
	require.NoError(t, err)
	cs := connect(t, s)

	_, err = store.AddDocument(context.Background(), "faq", "Refunds take five days.", nil, "faq.txt")
	require.NoError(t, err)

	var a answer.Answer
	res := call(t, cs, "ask", map[string]any{"collection": "faq", "question": "How long do refunds take?"}, &a)
	require.False(t, res.IsError, textOf(res))
	assert.Equal(t, "echo: How long do refunds take?", a.Text)
	require.Len(t, a.Sources, 1)
	assert.Equal(t, "Refunds take five days.", a.Sources[0].Text)

	var sum summarizeOutput
	call(t, cs, "summarize", map[string]any{"text": "a document"}, &sum)
	assert.Equal(t, "echo: a document", sum.Summary)
}

func TestServer_IngestFiles(t *testing.T) {
	store := collectionstest.NewStore(t)
	parser := ingest.NewParser(tokens.Approx{}, tokens.DefaultSelector())
	s, err := NewServer(Config{}, store, WithIngester(ingest.NewIngester(store, parser, true, nil)))
	require.NoError(t, err)
	cs := connect(t, s)

	dir := t.TempDir()
	good := filepath.Join(dir, "readme.md")
	require.NoError(t, os.WriteFile(good, []byte("# Readme\nHello."), 0600))

	var res ingest.BatchResult
	call(t, cs, "ingest_files", map[string]any{
		"collection": "docs",
		"paths":      []string{good, filepath.Join(dir, "missing.txt")},
	}, &res)
	assert.Equal(t, "docs", res.CollectionName)
	assert.Equal(t, 1, res.SuccessCount)
	require.Len(t, res.FailedFiles, 1)
	assert.Equal(t, "missing.txt", res.FailedFiles[0].Filename)

	docs, err := store.ListDocuments(context.Background(), "docs")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "readme.md", docs[0].ID)
}

func TestServer_ToolSearch(t *testing.T) {
	s, _ := newTestServer(t)
	cs := connect(t, s)

	var out toolSearchOutput
	call(t, cs, "tool_search", map[string]any{"query": "document_query"}, &out)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "document_query", out.Results[0].Tool.Name)
	assert.Equal(t, 3, out.Results[0].Score)

	call(t, cs, "tool_search", map[string]any{"query": "remove", "category": "document"}, &out)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "document_delete", out.Results[0].Tool.Name)
}

func TestToolRegistry_Search(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&ToolMetadata{Name: "document_add", Description: "store text", Category: CategoryDocument, Keywords: []string{"upload"}})
	r.Register(&ToolMetadata{Name: "document_list", Description: "list documents", Category: CategoryDocument})
	r.Register(&ToolMetadata{Name: "collection_list", Description: "list collections", Category: CategoryCollection})
	r.Register(nil)

	tests := []struct {
		query    string
		category ToolCategory
		want     []string
	}{
		{query: "DOCUMENT_ADD", want: []string{"document_add"}},
		{query: "_list$", want: []string{"collection_list", "document_list"}},
		{query: "upload", want: []string{"document_add"}},
		{query: "list", category: CategoryCollection, want: []string{"collection_list"}},
		{query: "nothing", want: nil},
		{query: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got []string
			for _, res := range r.Search(tt.query, tt.category) {
				got = append(got, res.Tool.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 3, r.Count())
}

func TestCategorizeError(t *testing.T) {
	assert.Equal(t, "not_found", categorizeError(collections.ErrNotFound))
	assert.Equal(t, "conflict", categorizeError(collections.ErrAlreadyExists))
	assert.Equal(t, "validation_error", categorizeError(ingest.ErrRejected))
	assert.Equal(t, "upstream_error", categorizeError(answer.ErrGeneration))
	assert.Equal(t, "timeout", categorizeError(context.DeadlineExceeded))
	assert.Equal(t, "internal_error", categorizeError(assert.AnError))
	assert.Empty(t, categorizeError(nil))
}
