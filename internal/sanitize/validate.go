package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// Validation errors for caller-supplied identifiers.
var (
	// ErrEmptyID indicates a required identifier was empty.
	ErrEmptyID = errors.New("identifier cannot be empty")

	// ErrInvalidID indicates an identifier contains disallowed characters.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")
)

// MaxDocumentIDLength bounds document identifiers supplied by callers.
const MaxDocumentIDLength = 256

// ValidateDocumentID checks a caller-supplied document identifier.
// Document ids become chunk id prefixes, so control characters and
// oversized ids are rejected.
func ValidateDocumentID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	if len(id) > MaxDocumentIDLength {
		return fmt.Errorf("%w: document id exceeds %d bytes", ErrInvalidID, MaxDocumentIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: document id contains control characters", ErrInvalidID)
		}
	}
	return nil
}

// SafeBasename returns the final element of an uploaded file path.
// Use it instead of filepath.Base on untrusted input.
func SafeBasename(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrEmptyID
	}
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", ErrPathTraversal
		}
	}

	base := filepath.Base(filepath.Clean(strings.ReplaceAll(p, "\\", "/")))
	if base == "" || base == "." || base == "/" || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: invalid path base", ErrPathTraversal)
	}
	return base, nil
}
