package ingest

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/tokens"
)

// Parse errors.
var (
	// ErrUnsupported indicates a file type with no extractor.
	ErrUnsupported = errors.New("unsupported file type")

	// ErrParse indicates a file that could not be read as its type.
	ErrParse = errors.New("cannot parse document")

	// ErrTooLarge indicates a file over the configured size limit.
	ErrTooLarge = errors.New("file too large")
)

// DefaultMaxFileSize bounds the bytes read from one uploaded file.
const DefaultMaxFileSize = 50 << 20

var plainTextExt = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
	".csv": true, ".tsv": true, ".json": true, ".yaml": true, ".yml": true,
	".log": true, ".xml": true, ".toml": true,
}

// Supported reports whether name has an extension the parser handles.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf", ".docx", ".html", ".htm":
		return true
	}
	return plainTextExt[ext]
}

// Parsed is the text and metadata extracted from one file.
type Parsed struct {
	Filename   string
	Text       string
	Choice     tokens.Choice
	Pages      int
	Title      string
	Redactions []Redaction
	Metadata   map[string]string
}

// Parser extracts text from uploaded files and computes upload metadata.
type Parser struct {
	counter     tokens.Counter
	selector    tokens.Selector
	redactor    *Redactor
	maxFileSize int64
	now         func() time.Time
	logger      *zap.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithRedactor redacts secrets from extracted text.
func WithRedactor(r *Redactor) ParserOption {
	return func(p *Parser) { p.redactor = r }
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) ParserOption {
	return func(p *Parser) {
		if n > 0 {
			p.maxFileSize = n
		}
	}
}

// WithParserClock overrides the clock used for upload_date.
func WithParserClock(now func() time.Time) ParserOption {
	return func(p *Parser) { p.now = now }
}

// WithParserLogger sets the logger.
func WithParserLogger(l *zap.Logger) ParserOption {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewParser creates a Parser counting tokens with counter and choosing
// models with selector.
func NewParser(counter tokens.Counter, selector tokens.Selector, opts ...ParserOption) *Parser {
	if counter == nil {
		counter = tokens.Approx{}
	}
	selector.ApplyDefaults()
	p := &Parser{
		counter:     counter,
		selector:    selector,
		maxFileSize: DefaultMaxFileSize,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads the file called name from r. The extension picks the
// extractor. Metadata holds filename, upload_date, token_count and model;
// model is empty when the text is empty or too large for the selector.
func (p *Parser) Parse(name string, r io.Reader) (Parsed, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.maxFileSize+1))
	if err != nil {
		return Parsed{}, fmt.Errorf("reading %s: %w", name, err)
	}
	if int64(len(data)) > p.maxFileSize {
		return Parsed{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, name, p.maxFileSize)
	}

	out := Parsed{Filename: name}
	switch ext := strings.ToLower(filepath.Ext(name)); {
	case ext == ".pdf":
		out.Text, out.Pages, err = extractPDF(data)
	case ext == ".docx":
		out.Text, err = extractDOCX(data)
	case ext == ".html" || ext == ".htm":
		out.Text, out.Title, err = extractHTML(data)
	case plainTextExt[ext]:
		if !utf8.Valid(data) {
			err = fmt.Errorf("%w: %s is not valid UTF-8", ErrParse, name)
		}
		out.Text = string(data)
	default:
		return Parsed{}, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if err != nil {
		return Parsed{}, err
	}

	out.Text, out.Redactions = p.redactor.Redact(out.Text)
	out.Choice = p.selector.Select(p.counter.Count(out.Text))

	out.Metadata = map[string]string{
		collections.KeyFilename:   name,
		collections.KeyUploadDate: p.now().UTC().Format(time.RFC3339),
		collections.KeyTokenCount: strconv.Itoa(out.Choice.Tokens),
		collections.KeyModel:      out.Choice.Model,
	}
	if out.Title != "" {
		out.Metadata["title"] = out.Title
	}
	if out.Pages > 0 {
		out.Metadata["pages"] = strconv.Itoa(out.Pages)
	}

	p.logger.Debug("document parsed",
		zap.String("filename", name),
		zap.Int("bytes", len(data)),
		zap.Int("tokens", out.Choice.Tokens),
		zap.String("model", out.Choice.Model),
		zap.Int("redactions", len(out.Redactions)))
	return out, nil
}
