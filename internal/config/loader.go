package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix starts every environment variable read into the config.
const EnvPrefix = "DOCUCHAT_"

const maxConfigFileSize = 1 << 20

// nestedSections lists sub-tables whose names may prefix a field in an
// environment variable, so DOCUCHAT_INGEST_REDACT_ENABLED reaches
// ingest.redact.enabled rather than ingest.redact_enabled.
var nestedSections = map[string][]string{
	"ingest":    {"redact", "watch"},
	"logging":   {"output", "sampling", "redaction"},
	"telemetry": {"metrics"},
}

// Options controls where Load looks.
type Options struct {
	// ConfigPath is the YAML file. Empty means DefaultPath. A missing
	// file is not an error.
	ConfigPath string

	// EnvFile is a dotenv file loaded into the process environment
	// before variables are read. Variables already set win. Empty skips
	// it; a missing file is not an error.
	EnvFile string
}

// DefaultDir returns ~/.config/docuchat.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "docuchat"), nil
}

// DefaultPath returns ~/.config/docuchat/config.yaml.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadWithFile loads configPath (or the default path) and .env from the
// working directory, then applies environment overrides.
func LoadWithFile(configPath string) (*Config, error) {
	return Load(Options{ConfigPath: configPath, EnvFile: ".env"})
}

// Load builds the configuration.
//
// The YAML file must live in ~/.config/docuchat or /etc/docuchat, be
// readable by its owner only (0600 or 0400) and be at most 1MB.
//
// Environment variables map to keys by dropping the DOCUCHAT_ prefix and
// splitting the section from the field at the first underscore:
//
//	DOCUCHAT_SERVER_PORT          -> server.port
//	DOCUCHAT_LLM_API_KEY          -> llm.api_key
//	DOCUCHAT_INGEST_WATCH_DIR     -> ingest.watch.dir
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", opts.EnvFile, err)
		}
	}

	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	content, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnsureDir creates ~/.config/docuchat with owner-only permissions.
func EnsureDir() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	for _, sub := range nestedSections[section] {
		if rest, ok := strings.CutPrefix(field, sub+"_"); ok {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

func validateConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrInvalidConfig, path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	dir, err := DefaultDir()
	if err != nil {
		return err
	}
	for _, allowed := range []string{dir, "/etc/docuchat"} {
		if abs == allowed || strings.HasPrefix(abs, allowed+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: config file must be in %s or /etc/docuchat, got %s", ErrInvalidConfig, dir, path)
}

// readConfigFile returns nil content when path does not exist. Checks run
// on the open descriptor so the file cannot be swapped in between.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
			return nil, fmt.Errorf("%w: %s has permissions %v, want 0600 or 0400", ErrInvalidConfig, path, perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidConfig, path, info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
}
