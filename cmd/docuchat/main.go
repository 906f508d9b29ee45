// Command docuchat manages document collections for retrieval-augmented
// chat. It ingests files into named collections, queries and answers
// questions over them, and serves the store over REST or MCP.
//
// Usage:
//
//	# Add two reports to a collection and ask about them
//	docuchat docs add --collection "Q1 Reports" q1.pdf notes.md
//	docuchat ask Q1_Reports "How did revenue develop?"
//
//	# Serve the REST API
//	docuchat serve --port 9090
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	envFile    string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "docuchat",
	Short: "Document collections for retrieval-augmented chat",
	Long: `docuchat stores documents as embedded chunks in named collections and
answers questions grounded on them.

Configuration is read from ~/.config/docuchat/config.yaml, a .env file and
DOCUCHAT_* environment variables, in increasing order of precedence.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "docuchat by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.config/docuchat/config.yaml)")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before environment overrides")
	pf.StringVar(&logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")
	pf.BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
