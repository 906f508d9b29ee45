// Package ignore reads gitignore-style exclude files for watched
// directories.
//
// Only the last path element is matched, since watched directories are
// not walked recursively. A leading "!" re-includes names excluded by an
// earlier pattern; the last matching pattern wins.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFile is the exclude file looked for in a watched directory.
const DefaultFile = ".docuchatignore"

type rule struct {
	glob   string
	negate bool
}

// Matcher decides whether a file name is excluded. The zero value and a
// nil *Matcher exclude nothing.
type Matcher struct {
	rules []rule
}

// Load reads each named exclude file from dir and combines their
// patterns in order. Missing files are skipped.
func Load(dir string, files []string) (*Matcher, error) {
	m := &Matcher{}
	for _, name := range files {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		err = m.read(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return m, nil
}

// Parse builds a Matcher from patterns given directly, one per element.
func Parse(patterns ...string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		if err := m.add(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Matcher) read(f *os.File) error {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := m.add(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (m *Matcher) add(line string) error {
	r, ok := parseLine(line)
	if !ok {
		return nil
	}
	if _, err := filepath.Match(r.glob, "x"); err != nil {
		return fmt.Errorf("bad pattern %q: %w", line, err)
	}
	m.rules = append(m.rules, r)
	return nil
}

// parseLine turns one exclude-file line into a rule. Blank lines and
// comments yield false.
func parseLine(line string) (rule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}
	var r rule
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	line = strings.TrimPrefix(line, `\`)
	line = strings.Trim(line, "/")
	if i := strings.LastIndex(line, "/"); i >= 0 {
		line = line[i+1:]
	}
	line = strings.TrimPrefix(line, "**")
	if line == "" {
		return rule{}, false
	}
	r.glob = line
	return r, true
}

// Excluded reports whether the base name of path is excluded.
func (m *Matcher) Excluded(path string) bool {
	if m == nil {
		return false
	}
	name := filepath.Base(path)
	excluded := false
	for _, r := range m.rules {
		if ok, _ := filepath.Match(r.glob, name); ok {
			excluded = !r.negate
		}
	}
	return excluded
}

// Len returns the number of patterns.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}
