// Package chunking splits document text into bounded-size passages.
//
// The order of the returned passages matches the order of the source text;
// the position of a passage in the slice becomes its chunk index.
package chunking

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// DefaultSize is the default passage size in characters.
const DefaultSize = 500

// Strategy names accepted by New.
const (
	StrategyFixed     = "fixed"
	StrategyRecursive = "recursive"
)

// ErrInvalidConfig indicates an unusable chunker configuration.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Chunker splits text into passages.
type Chunker interface {
	Chunk(text string) []string
}

// Config selects and parameterizes a Chunker.
type Config struct {
	Strategy string `koanf:"strategy"`
	Size     int    `koanf:"size"`
	Overlap  int    `koanf:"overlap"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyFixed
	}
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must be in [0, size), got %d", ErrInvalidConfig, c.Overlap)
	}
	switch c.Strategy {
	case StrategyFixed, StrategyRecursive:
		return nil
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
}

// New builds the Chunker described by cfg.
func New(cfg Config) (Chunker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Strategy == StrategyRecursive {
		return NewRecursive(cfg.Size, cfg.Overlap), nil
	}
	return Fixed{Size: cfg.Size}, nil
}

// Fixed cuts text into consecutive, non-overlapping windows of Size
// characters. Windows containing only whitespace are dropped.
type Fixed struct {
	Size int
}

// Chunk implements Chunker.
func (f Fixed) Chunk(text string) []string {
	size := f.Size
	if size <= 0 {
		size = DefaultSize
	}
	if text == "" {
		return []string{}
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, n := 0, 0
	for i := range text {
		if n == size {
			chunks = appendNonBlank(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return appendNonBlank(chunks, text[start:])
}

// Recursive splits on paragraph, line, and word boundaries before falling
// back to hard cuts, keeping each passage within Size characters.
type Recursive struct {
	splitter textsplitter.RecursiveCharacter
	fallback Fixed
}

// NewRecursive returns a boundary-aware chunker.
func NewRecursive(size, overlap int) *Recursive {
	return &Recursive{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
		),
		fallback: Fixed{Size: size},
	}
}

// Chunk implements Chunker. If the splitter fails the fixed window policy
// is used so that chunking stays total.
func (r *Recursive) Chunk(text string) []string {
	if text == "" {
		return []string{}
	}
	parts, err := r.splitter.SplitText(text)
	if err != nil {
		return r.fallback.Chunk(text)
	}
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		chunks = appendNonBlank(chunks, p)
	}
	return chunks
}

func appendNonBlank(chunks []string, window string) []string {
	if strings.TrimSpace(window) == "" {
		return chunks
	}
	return append(chunks, window)
}
