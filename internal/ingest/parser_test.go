package ingest

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/tokens"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newTestParser(opts ...ParserOption) *Parser {
	opts = append([]ParserOption{WithParserClock(func() time.Time { return fixedNow })}, opts...)
	return NewParser(tokens.Approx{}, tokens.DefaultSelector(), opts...)
}

func TestParse_PlainText(t *testing.T) {
	p := newTestParser()
	got, err := p.Parse("notes.txt", strings.NewReader("twelve chars"))
	require.NoError(t, err)

	assert.Equal(t, "twelve chars", got.Text)
	assert.Equal(t, 3, got.Choice.Tokens)
	assert.Equal(t, map[string]string{
		collections.KeyFilename:   "notes.txt",
		collections.KeyUploadDate: "2024-06-01T09:30:00Z",
		collections.KeyTokenCount: "3",
		collections.KeyModel:      "gpt-4o-mini",
	}, got.Metadata)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    []byte
		opts    []ParserOption
		wantErr error
	}{
		{name: "unsupported", file: "image.png", data: []byte("x"), wantErr: ErrUnsupported},
		{name: "no extension", file: "README", data: []byte("x"), wantErr: ErrUnsupported},
		{name: "invalid utf8", file: "bad.txt", data: []byte{0xff, 0xfe, 0xfd}, wantErr: ErrParse},
		{name: "too large", file: "big.txt", data: bytes.Repeat([]byte("a"), 11), opts: []ParserOption{WithMaxFileSize(10)}, wantErr: ErrTooLarge},
		{name: "broken pdf", file: "broken.pdf", data: []byte("%PDF-1.7 not really"), wantErr: ErrParse},
		{name: "broken docx", file: "broken.docx", data: []byte("not a zip"), wantErr: ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestParser(tt.opts...).Parse(tt.file, bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_TooManyTokens(t *testing.T) {
	p := newTestParser()
	p.selector = tokens.Selector{Model: "small", ContextWindow: 10, GenerationSize: 2}

	got, err := p.Parse("long.md", strings.NewReader(strings.Repeat("word ", 20)))
	require.NoError(t, err)
	assert.False(t, got.Choice.Fits())
	assert.Equal(t, 3, got.Choice.Parts)
	assert.Empty(t, got.Metadata[collections.KeyModel])
}

func TestParse_HTML(t *testing.T) {
	page := `<html><head><title> Release Notes </title><style>body{}</style></head>
<body><nav>Home | About</nav><main><h1>v2.0</h1><p>Faster <b>queries</b>.</p></main>
<script>alert("x")</script></body></html>`

	got, err := newTestParser().Parse("notes.html", strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "Release Notes", got.Metadata["title"])
	assert.Contains(t, got.Text, "v2.0")
	assert.Contains(t, got.Text, "**queries**")
	assert.NotContains(t, got.Text, "alert")
	assert.NotContains(t, got.Text, "About")
}

func TestParse_DOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>First</w:t></w:r><w:r><w:tab/><w:t>line</w:t></w:r></w:p>
<w:p><w:r><w:t>Second line</w:t></w:r></w:p>
</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	got, err := newTestParser().Parse("memo.docx", &buf)
	require.NoError(t, err)
	assert.Equal(t, "First\tline\nSecond line", got.Text)
}

func TestContentText(t *testing.T) {
	stream := []byte(`BT
/F1 12 Tf
72 712 Td
(Hello, \(PDF\) world) Tj
0 -14 Td
[(Sp) -250 (aced)] TJ
T* <48692E> Tj
ET
/Artifact << /MCID 0 >> BDC (ignored) EMC`)

	assert.Equal(t, "Hello, (PDF) world\nSpaced\nHi.\n", contentText(stream))
}

func TestLiteralStringEscapes(t *testing.T) {
	s, next := literalString([]byte(`(a\nb\101(c)) rest`), 0)
	assert.Equal(t, "a\nbA(c)", s)
	assert.Equal(t, 13, next)
}

func TestPageNumber(t *testing.T) {
	n, ok := pageNumber("in_Content_page_12.txt")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = pageNumber("in.txt")
	assert.False(t, ok)
}

func TestSupported(t *testing.T) {
	for _, name := range []string{"a.pdf", "b.DOCX", "c.htm", "d.md", "e.txt"} {
		assert.True(t, Supported(name), name)
	}
	for _, name := range []string{"a.png", "b", "c.exe"} {
		assert.False(t, Supported(name), name)
	}
}
