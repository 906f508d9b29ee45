package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docuchat/internal/ingest"
)

var (
	watchCollection  string
	watchInitialScan bool
	watchDebounce    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Keep a collection in step with a directory",
	Long: `Watch a directory and ingest new or changed files into a collection.
Removing a file deletes its document. The directory defaults to
ingest.watch.dir and the collection to the directory name.

Examples:
  docuchat watch ~/reports --collection "Q1 Reports" --initial-scan`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var importCmd = &cobra.Command{
	Use:   "import <manifest.toml>",
	Short: "Ingest the files listed in a TOML manifest",
	Long: `Ingest files into collections as listed in a TOML manifest:

  [[collection]]
  name  = "reports"
  files = ["q1.pdf", "notes/*.md"]

Relative paths and patterns resolve against the manifest's directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	watchCmd.Flags().StringVarP(&watchCollection, "collection", "c", "", "target collection (default: directory name)")
	watchCmd.Flags().BoolVar(&watchInitialScan, "initial-scan", false, "ingest the files already in the directory")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before a changed file is ingested")

	rootCmd.AddCommand(watchCmd, importCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		cfg := a.cfg.Ingest.Watch
		if len(args) == 1 {
			cfg.Dir = args[0]
		}
		if watchCollection != "" {
			cfg.Collection = watchCollection
		}
		if watchInitialScan {
			cfg.InitialScan = true
		}
		if watchDebounce > 0 {
			cfg.Debounce = watchDebounce
		}
		if cfg.Dir == "" {
			return fmt.Errorf("no directory given and ingest.watch.dir is not set")
		}

		out := cmd.OutOrStdout()
		w, err := ingest.NewWatcher(a.ingester, cfg, func(r ingest.WatchResult) {
			if jsonOutput {
				_ = printJSON(out, watchEvent(r))
				return
			}
			switch {
			case r.Err != nil:
				fmt.Fprintf(out, "%s %s: %v\n", errStyle.Render("✗"), r.Path, r.Err)
			case r.Action == ingest.WatchRemoved:
				fmt.Fprintf(out, "%s removed %s\n", dimStyle.Render("-"), r.Path)
			default:
				fmt.Fprintf(out, "%s %s: %d tokens, %d chunks\n", okStyle.Render("✓"), r.Path, r.File.Tokens, r.File.Chunks)
			}
		}, a.logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s into %s. Press Ctrl+C to stop.\n", cfg.Dir, w.Collection())
		return w.Run(ctx)
	})
}

func watchEvent(r ingest.WatchResult) map[string]any {
	e := map[string]any{"path": r.Path, "action": r.Action}
	if r.Err != nil {
		e["error"] = r.Err.Error()
	} else if r.Action == ingest.WatchIngested {
		e["file"] = r.File
	}
	return e
}

func runImport(cmd *cobra.Command, args []string) error {
	m, err := ingest.LoadManifest(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		results, err := a.ingester.ApplyManifest(ctx, m)
		if jsonOutput {
			if perr := printJSON(cmd.OutOrStdout(), results); perr != nil {
				return perr
			}
		} else {
			for _, r := range results {
				printBatch(cmd, r)
			}
		}
		return err
	})
}
