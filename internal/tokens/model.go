package tokens

import (
	"fmt"
)

// Defaults for model selection.
const (
	DefaultModel          = "gpt-4o-mini"
	DefaultContextWindow  = 128000
	DefaultGenerationSize = 500
)

// Selector picks the model for a document of a given size.
type Selector struct {
	Model          string `koanf:"model"`
	ContextWindow  int    `koanf:"context_window"`
	GenerationSize int    `koanf:"generation_size"`
}

// DefaultSelector returns the gpt-4o-mini selector.
func DefaultSelector() Selector {
	return Selector{
		Model:          DefaultModel,
		ContextWindow:  DefaultContextWindow,
		GenerationSize: DefaultGenerationSize,
	}
}

// ApplyDefaults fills unset fields.
func (s *Selector) ApplyDefaults() {
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.ContextWindow <= 0 {
		s.ContextWindow = DefaultContextWindow
	}
	if s.GenerationSize < 0 {
		s.GenerationSize = 0
	}
}

// Validate checks the selector.
func (s Selector) Validate() error {
	if s.GenerationSize >= s.ContextWindow {
		return fmt.Errorf("generation size %d must be below context window %d", s.GenerationSize, s.ContextWindow)
	}
	return nil
}

// Budget is the number of prompt tokens a document may use.
func (s Selector) Budget() int {
	return s.ContextWindow - s.GenerationSize
}

// Choice is the outcome of Select.
type Choice struct {
	Tokens int
	// Model is empty when the document is empty or too large.
	Model string
	// Parts is the suggested number of pieces to split an oversized
	// document into; 0 when the document fits.
	Parts int
}

// Fits reports whether a model was chosen.
func (c Choice) Fits() bool { return c.Model != "" }

// Select picks a model for a document of n tokens.
func (s Selector) Select(n int) Choice {
	c := Choice{Tokens: n}
	switch {
	case n <= 0:
	case n <= s.Budget():
		c.Model = s.Model
	default:
		c.Parts = (n + s.ContextWindow - 1) / s.ContextWindow
	}
	return c
}
