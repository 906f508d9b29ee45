package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprox(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"héllo wörld", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Approx{}.Count(tt.in), tt.in)
	}
}

func TestTiktoken(t *testing.T) {
	tk, err := NewTiktoken("")
	if err != nil {
		t.Skipf("encoding not available offline: %v", err)
	}
	assert.Equal(t, DefaultEncoding, tk.Encoding())
	assert.Zero(t, tk.Count(""))
	assert.Equal(t, 2, tk.Count("hello world"))
}

func TestNewCounter_UnknownEncoding(t *testing.T) {
	c, err := NewCounter("no_such_encoding")
	require.ErrorIs(t, err, ErrEncoding)
	assert.IsType(t, Approx{}, c)
}

func TestSelector(t *testing.T) {
	s := DefaultSelector()
	require.NoError(t, s.Validate())

	tests := []struct {
		name   string
		tokens int
		model  string
		parts  int
	}{
		{name: "empty", tokens: 0},
		{name: "small", tokens: 1200, model: "gpt-4o-mini"},
		{name: "at budget", tokens: 127500, model: "gpt-4o-mini"},
		{name: "over budget", tokens: 127501, parts: 1},
		{name: "twice the window", tokens: 256001, parts: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := s.Select(tt.tokens)
			assert.Equal(t, tt.model, c.Model)
			assert.Equal(t, tt.parts, c.Parts)
			assert.Equal(t, tt.model != "", c.Fits())
		})
	}
}

func TestSelector_Defaults(t *testing.T) {
	var s Selector
	s.ApplyDefaults()
	assert.Equal(t, DefaultSelector().Model, s.Model)
	assert.Equal(t, DefaultContextWindow, s.ContextWindow)

	s.GenerationSize = s.ContextWindow
	assert.Error(t, s.Validate())
}
