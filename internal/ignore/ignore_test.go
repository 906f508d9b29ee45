package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   rule
		wantOK bool
	}{
		{"empty line", "", rule{}, false},
		{"whitespace only", "   ", rule{}, false},
		{"comment", "# drafts", rule{}, false},
		{"simple glob", "*.log", rule{glob: "*.log"}, true},
		{"trailing space", "*.tmp  ", rule{glob: "*.tmp"}, true},
		{"negation", "!keep.md", rule{glob: "keep.md", negate: true}, true},
		{"escaped hash", `\#notes.md`, rule{glob: "#notes.md"}, true},
		{"rooted", "/draft.md", rule{glob: "draft.md"}, true},
		{"nested path keeps last element", "archive/old.pdf", rule{glob: "old.pdf"}, true},
		{"double star prefix", "**/*.bak", rule{glob: "*.bak"}, true},
		{"directory only", "build/", rule{glob: "build"}, true},
		{"bare double star", "**", rule{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcher_Excluded(t *testing.T) {
	m, err := Parse("*.md", "!README.md", "secret-*")
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())

	tests := []struct {
		path string
		want bool
	}{
		{"/docs/notes.md", true},
		{"/docs/README.md", false},
		{"/docs/secret-plan.pdf", true},
		{"/docs/report.pdf", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Excluded(tt.path), tt.path)
	}
}

func TestMatcher_LastMatchWins(t *testing.T) {
	m, err := Parse("!draft.md", "draft*")
	require.NoError(t, err)
	assert.True(t, m.Excluded("draft.md"))
}

func TestMatcher_Nil(t *testing.T) {
	var m *Matcher
	assert.False(t, m.Excluded("anything.md"))
	assert.Zero(t, m.Len())
}

func TestParse_BadPattern(t *testing.T) {
	_, err := Parse("[unclosed")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("# scratch\n*.tmp\n\n!keep.tmp\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".extraignore"), []byte("*.bak\n"), 0600))

	m, err := Load(dir, []string{DefaultFile, ".extraignore", ".missing"})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	assert.True(t, m.Excluded(filepath.Join(dir, "a.tmp")))
	assert.False(t, m.Excluded(filepath.Join(dir, "keep.tmp")))
	assert.True(t, m.Excluded(filepath.Join(dir, "old.bak")))
}

func TestLoad_NoFiles(t *testing.T) {
	m, err := Load(t.TempDir(), []string{DefaultFile})
	require.NoError(t, err)
	assert.Zero(t, m.Len())
	assert.False(t, m.Excluded("report.pdf"))
}
