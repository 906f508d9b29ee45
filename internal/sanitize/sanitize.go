// Package sanitize normalizes user-supplied names into collection identifiers.
//
// Collection names accepted by the vector index must be 3-63 characters of
// [A-Za-z0-9_-] and must start and end with an alphanumeric character.
package sanitize

import (
	"path"
	"strings"
)

const (
	// MinCollectionNameLength is the shortest identifier the index accepts.
	MinCollectionNameLength = 3

	// MaxCollectionNameLength is the longest identifier the index accepts.
	MaxCollectionNameLength = 63

	// ShortNameSuffix pads names that sanitize to fewer than
	// MinCollectionNameLength characters.
	ShortNameSuffix = "_doc"
)

// CollectionName sanitizes raw input into a valid collection identifier.
//
// Rules applied, in order:
//   - Strips a trailing file extension ("report.pdf" -> "report")
//   - Replaces every character outside [A-Za-z0-9_-] with '_'
//   - Trims leading/trailing non-alphanumeric runs
//   - Truncates to MaxCollectionNameLength and re-trims the tail
//   - Appends ShortNameSuffix when the result is shorter than
//     MinCollectionNameLength
//
// The function is total and idempotent:
//
//	CollectionName(CollectionName(x)) == CollectionName(x)
//
// Examples:
//
//	"Quarterly Report.pdf" -> "Quarterly_Report"
//	"a"                    -> "a_doc"
//	"" or "!!!"            -> "doc"
func CollectionName(raw string) string {
	s := stripExtension(raw)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isAlnum(r) || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	name := trimNonAlnum(b.String())

	if len(name) > MaxCollectionNameLength {
		name = strings.TrimRightFunc(name[:MaxCollectionNameLength], notAlnum)
	}

	if len(name) < MinCollectionNameLength {
		name = strings.TrimLeftFunc(name+ShortNameSuffix, notAlnum)
	}

	return name
}

// IsCollectionName reports whether name is already a valid identifier.
func IsCollectionName(name string) bool {
	if len(name) < MinCollectionNameLength || len(name) > MaxCollectionNameLength {
		return false
	}
	for _, r := range name {
		if !isAlnum(r) && r != '_' && r != '-' {
			return false
		}
	}
	return isAlnum(rune(name[0])) && isAlnum(rune(name[len(name)-1]))
}

// stripExtension removes the extension of the final path element.
// Leading dots (".bashrc") are not treated as an extension separator.
func stripExtension(s string) string {
	base := s
	if i := strings.LastIndex(s, "/"); i >= 0 {
		base = s[i+1:]
	}
	trimmed := strings.TrimLeft(base, ".")
	ext := path.Ext(trimmed)
	if ext == "" {
		return s
	}
	return s[:len(s)-len(ext)]
}

func trimNonAlnum(s string) string {
	return strings.TrimFunc(s, notAlnum)
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func notAlnum(r rune) bool {
	return !isAlnum(r)
}
