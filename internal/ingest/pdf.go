package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDF returns the text of every page of the PDF in data, pages
// separated by blank lines, and the page count.
//
// pdfcpu dumps the raw content stream of each page; the text showing
// operators in those streams are then decoded by contentText.
func extractPDF(data []byte) (string, int, error) {
	dir, err := os.MkdirTemp("", "docuchat-pdf-")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, data, 0600); err != nil {
		return "", 0, fmt.Errorf("writing temp pdf: %w", err)
	}

	ctx, err := api.ReadContextFile(in)
	if err != nil {
		return "", 0, fmt.Errorf("%w: reading pdf: %v", ErrParse, err)
	}

	out := filepath.Join(dir, "pages")
	if err := os.MkdirAll(out, 0700); err != nil {
		return "", 0, fmt.Errorf("creating page dir: %w", err)
	}
	if err := api.ExtractContentFile(in, out, nil, model.NewDefaultConfiguration()); err != nil {
		return "", ctx.PageCount, fmt.Errorf("%w: extracting pdf content: %v", ErrParse, err)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		return "", ctx.PageCount, fmt.Errorf("reading page dir: %w", err)
	}
	type page struct {
		n    int
		text string
	}
	pages := make([]page, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := pageNumber(e.Name())
		if !ok {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(out, e.Name()))
		if err != nil {
			return "", ctx.PageCount, fmt.Errorf("reading page %d: %w", n, err)
		}
		pages = append(pages, page{n: n, text: contentText(raw)})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	var b strings.Builder
	for _, p := range pages {
		t := strings.TrimSpace(p.text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t)
	}
	return b.String(), ctx.PageCount, nil
}

// pageNumber parses names like "in_Content_page_3.txt".
func pageNumber(name string) (int, bool) {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndex(name, "page_")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[i+len("page_"):])
	return n, err == nil
}

// contentText pulls the strings shown by Tj, TJ, ' and " out of a PDF
// content stream. Strings in fonts with custom encodings come out as
// their raw bytes.
func contentText(stream []byte) string {
	var (
		out     strings.Builder
		pending []string
	)
	newline := func() {
		if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
			out.WriteByte('\n')
		}
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := literalString(stream, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(stream) && stream[i+1] == '<':
			i += 2
		case c == '<':
			s, next := hexString(stream, i)
			pending = append(pending, s)
			i = next
		case isOperatorByte(c):
			j := i
			for j < len(stream) && isOperatorByte(stream[j]) {
				j++
			}
			switch op := string(stream[i:j]); op {
			case "Tj", "TJ":
				out.WriteString(strings.Join(pending, ""))
			case "'", "\"":
				newline()
				out.WriteString(strings.Join(pending, ""))
			case "T*", "Td", "TD":
				newline()
			case "ET":
				newline()
			}
			pending = pending[:0]
			i = j
		default:
			i++
		}
	}
	return out.String()
}

func isOperatorByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '*' || c == '\'' || c == '"'
}

// literalString decodes a balanced "( ... )" string starting at i.
func literalString(s []byte, i int) (string, int) {
	var b bytes.Buffer
	depth := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch e := s[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\n', '\r':
			default:
				if e >= '0' && e <= '7' {
					v, k := 0, 0
					for k < 3 && i < len(s) && s[i] >= '0' && s[i] <= '7' {
						v = v*8 + int(s[i]-'0')
						i++
						k++
					}
					b.WriteByte(byte(v))
					continue
				}
				b.WriteByte(e)
			}
			i++
		case c == '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
			i++
		case c == ')':
			depth--
			i++
			if depth == 0 {
				return b.String(), i
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i
}

// hexString decodes a "<...>" string starting at i.
func hexString(s []byte, i int) (string, int) {
	i++
	var digits []byte
	for i < len(s) && s[i] != '>' {
		if isHex(s[i]) {
			digits = append(digits, s[i])
		}
		i++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	var b bytes.Buffer
	for k := 0; k+1 < len(digits); k += 2 {
		v, _ := strconv.ParseUint(string(digits[k:k+2]), 16, 8)
		b.WriteByte(byte(v))
	}
	return b.String(), i + 1
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
