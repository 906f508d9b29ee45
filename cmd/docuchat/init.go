package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docuchat/internal/config"
	"github.com/fyrsmithlabs/docuchat/internal/embeddings"
	"github.com/fyrsmithlabs/docuchat/internal/logging"
)

var (
	forceDownload bool
	skipRuntime   bool
)

// starterConfig is written by init when no config file exists.
const starterConfig = `# docuchat configuration. DOCUCHAT_<SECTION>_<FIELD> variables override
# these values, e.g. DOCUCHAT_SERVER_PORT=8080.

server:
  host: localhost
  port: 9090

store:
  provider: chromem      # chromem (embedded) or qdrant
  path: ~/.config/docuchat/store
  default_k: 3

embeddings:
  provider: fastembed    # fastembed (local), tei or openai

chunking:
  strategy: fixed        # fixed or recursive
  size: 500

llm:
  backend: openai        # openai or local (ollama)
  model: gpt-4o-mini

ingest:
  replace: true
  redact:
    enabled: true

logging:
  level: info
  format: console
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize docuchat configuration and dependencies",
	Long: `Initialize docuchat:

  1. Creates ~/.config/docuchat with owner-only permissions
  2. Writes a starter config.yaml unless one exists
  3. Downloads the ONNX runtime library required for local embeddings with
     FastEmbed into ~/.config/docuchat/lib/

If the ONNX_PATH environment variable is set, that path takes precedence.

Examples:
  # Initialize docuchat
  docuchat init

  # Force re-download of the ONNX runtime
  docuchat init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "force re-download even if ONNX runtime exists")
	initCmd.Flags().BoolVar(&skipRuntime, "skip-runtime", false, "do not download the ONNX runtime")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	dir, err := config.EnsureDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.yaml")
	created, err := writeStarterConfig(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "%s wrote %s\n", okStyle.Render("✓"), path)
	} else {
		fmt.Fprintf(out, "Config already present at %s\n", path)
	}

	if skipRuntime {
		return nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Embeddings.Provider != embeddings.ProviderFastEmbed {
		fmt.Fprintf(out, "Embedding provider is %s; the ONNX runtime is not needed.\n", cfg.Embeddings.Provider)
		return nil
	}

	logger, err := logging.NewLogger(cfg.Logging, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	installer := embeddings.NewRuntimeInstaller(logger)
	if !forceDownload {
		if p := installer.LibraryPath(); p != "" {
			fmt.Fprintf(out, "ONNX runtime already installed at: %s\n", p)
			fmt.Fprintln(out, "Use --force to re-download.")
			return nil
		}
	}

	fmt.Fprintf(out, "Downloading ONNX runtime v%s...\n", installer.Version)
	if err := installer.Download(cmd.Context()); err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}
	p := installer.LibraryPath()
	if p == "" {
		return errors.New("download completed but library not found")
	}
	fmt.Fprintf(out, "%s installed ONNX runtime to: %s\n", okStyle.Render("✓"), p)
	return nil
}

// writeStarterConfig creates path with owner-only permissions. It reports
// false when the file already exists.
func writeStarterConfig(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.WriteString(starterConfig); err != nil {
		f.Close()
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, f.Close()
}
