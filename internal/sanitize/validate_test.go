package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocumentID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "file name", id: "report.pdf"},
		{name: "generated id", id: "chunk-0b7e2f4a"},
		{name: "unicode allowed", id: "résumé.txt"},
		{name: "empty", id: "", wantErr: ErrEmptyID},
		{name: "whitespace only", id: "   ", wantErr: ErrEmptyID},
		{name: "control characters", id: "bad\x00id", wantErr: ErrInvalidID},
		{name: "too long", id: strings.Repeat("a", MaxDocumentIDLength+1), wantErr: ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentID(tt.id)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSafeBasename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "plain file", input: "notes.txt", expected: "notes.txt"},
		{name: "nested path", input: "uploads/2024/notes.txt", expected: "notes.txt"},
		{name: "windows path", input: `C:\Users\me\notes.txt`, expected: "notes.txt"},
		{name: "traversal", input: "../../etc/passwd", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "root", input: "/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeBasename(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
