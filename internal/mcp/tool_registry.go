package mcp

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ToolCategory groups tools for discovery.
type ToolCategory string

const (
	CategoryCollection ToolCategory = "collection"
	CategoryDocument   ToolCategory = "document"
	CategoryChat       ToolCategory = "chat"
	CategoryIngest     ToolCategory = "ingest"
	CategorySearch     ToolCategory = "search"
)

// ToolMetadata describes a registered tool.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	Keywords    []string     `json:"keywords,omitempty"`
}

// ToolRegistry holds the metadata of the registered tools.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(tool *ToolMetadata) {
	if tool == nil || tool.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the metadata of name.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SearchResult is a tool matching a query.
//
// Score is 3 for an exact name match, 2 when the name matches and 1 when
// the description or a keyword matches.
type SearchResult struct {
	Tool        *ToolMetadata `json:"tool"`
	Score       int           `json:"score"`
	MatchReason string        `json:"match_reason"`
}

// Search finds tools whose name, description or keywords match query,
// case-insensitively. A query that compiles as a regular expression is
// also matched as one. Results are ordered by score, then name.
func (r *ToolRegistry) Search(query string, category ToolCategory) []SearchResult {
	if query == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	re, _ := regexp.Compile("(?i)" + query)
	matches := func(s string) bool {
		return strings.Contains(strings.ToLower(s), q) || (re != nil && re.MatchString(s))
	}

	var results []SearchResult
	for _, t := range r.tools {
		if category != "" && t.Category != category {
			continue
		}
		switch {
		case strings.ToLower(t.Name) == q:
			results = append(results, SearchResult{Tool: t, Score: 3, MatchReason: "exact name match"})
		case matches(t.Name):
			results = append(results, SearchResult{Tool: t, Score: 2, MatchReason: "name match"})
		case matches(t.Description):
			results = append(results, SearchResult{Tool: t, Score: 1, MatchReason: "description match"})
		default:
			for _, kw := range t.Keywords {
				if matches(kw) {
					results = append(results, SearchResult{Tool: t, Score: 1, MatchReason: "keyword match"})
					break
				}
			}
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Tool.Name < results[j].Tool.Name
	})
	return results
}
