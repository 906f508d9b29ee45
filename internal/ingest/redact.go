package ingest

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

// ErrInvalidAllowlist indicates an allowlist file could not be used.
var ErrInvalidAllowlist = errors.New("invalid allowlist")

// RedactConfig configures secret redaction of ingested text.
type RedactConfig struct {
	Enabled bool `koanf:"enabled"`

	// AllowlistPath points at a TOML file with an [allowlist] table holding
	// "regexes" of content to leave untouched. Missing files are ignored.
	AllowlistPath string `koanf:"allowlist_path"`
}

// Redaction describes one redacted secret. The secret itself is never
// kept.
type Redaction struct {
	RuleID  string `json:"rule_id"`
	Line    int    `json:"line"`
	Length  int    `json:"length"`
	Preview string `json:"preview"`
}

// Redactor replaces secrets found by the gitleaks rule set with
// [REDACTED:rule-id:preview] markers before text is embedded.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
	logger   *zap.Logger
}

// NewRedactor builds a Redactor from the gitleaks default rules plus the
// configured allowlist. It returns nil when redaction is disabled; a nil
// Redactor passes text through.
func NewRedactor(cfg RedactConfig, logger *zap.Logger) (*Redactor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	patterns, err := loadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	if len(patterns) > 0 {
		applyAllowlist(&d.Config, patterns)
	}
	return &Redactor{detector: d, logger: logger}, nil
}

func loadAllowlist(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	var file struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}
	for _, p := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v", ErrInvalidAllowlist, p, path, err)
		}
	}
	return file.Allowlist.Regexes, nil
}

// applyAllowlist appends pre-validated patterns to the detector config.
func applyAllowlist(cfg *gitleaksconfig.Config, patterns []string) {
	allow := &gitleaksconfig.Allowlist{Description: "docuchat allowlist"}
	for _, p := range patterns {
		allow.Regexes = append(allow.Regexes, (*gitleaksregexp.Regexp)(regexp.MustCompile(p)))
	}
	cfg.Allowlists = append(cfg.Allowlists, allow)
}

// Redact returns text with every detected secret replaced.
func (r *Redactor) Redact(text string) (string, []Redaction) {
	if r == nil || text == "" {
		return text, nil
	}

	r.mu.Lock()
	findings := r.detector.DetectString(text)
	r.mu.Unlock()
	if len(findings) == 0 {
		return text, nil
	}

	// Longest secrets first so that a secret containing another is
	// replaced whole.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})

	redactions := make([]Redaction, 0, len(findings))
	for _, f := range findings {
		if f.Secret == "" || !strings.Contains(text, f.Secret) {
			continue
		}
		preview := preview(f.Secret, 4)
		text = strings.ReplaceAll(text, f.Secret, fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview))
		redactions = append(redactions, Redaction{
			RuleID:  f.RuleID,
			Line:    f.StartLine,
			Length:  len(f.Secret),
			Preview: preview,
		})
	}
	if len(redactions) > 0 {
		r.logger.Debug("secrets redacted from document", zap.Int("count", len(redactions)))
	}
	return text, redactions
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
