// Package tokens counts tokens in document text and picks the chat model
// that can hold a document in its context window.
package tokens

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// ErrEncoding indicates the requested encoding could not be loaded.
var ErrEncoding = errors.New("token encoding unavailable")

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts tokens with a tiktoken BPE encoding.
type Tiktoken struct {
	name string
	enc  *tiktoken.Tiktoken
	mu   sync.Mutex
}

// NewTiktoken loads the named encoding. The first load of an encoding may
// download its rank file into the tiktoken cache directory.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoding, encoding, err)
	}
	return &Tiktoken{name: encoding, enc: enc}, nil
}

// Encoding returns the encoding name.
func (t *Tiktoken) Encoding() string { return t.name }

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// Approx estimates roughly four characters per token. It is the fallback
// when no encoding can be loaded.
type Approx struct{}

// Count implements Counter.
func (Approx) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// NewCounter returns a Tiktoken counter for encoding, or Approx along
// with the load error when the encoding is unavailable.
func NewCounter(encoding string) (Counter, error) {
	t, err := NewTiktoken(encoding)
	if err != nil {
		return Approx{}, err
	}
	return t, nil
}

var (
	_ Counter = (*Tiktoken)(nil)
	_ Counter = Approx{}
)
