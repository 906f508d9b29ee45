package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/events"
	"github.com/fyrsmithlabs/docuchat/internal/logging"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Observe collection change events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail [collection]",
	Short: "Print change events published on NATS",
	Long: `Subscribe to the change events published by docuchat processes with
events.enabled set, for one collection or for all of them, and print
them until interrupted. The NATS server is taken from events.url.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEventsTail,
}

func init() {
	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Logging, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	pub, err := events.Connect(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	var collection string
	if len(args) == 1 {
		collection = args[0]
	}
	sub, err := events.Subscribe(pub.Conn(), cfg.Events.SubjectPrefix, collection, eventPrinter(cmd.OutOrStdout()))
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer func() { _ = sub.Drain() }()

	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s. Press Ctrl+C to stop.\n", cfg.Events.URL)
	<-cmd.Context().Done()
	return nil
}

func eventPrinter(w io.Writer) func(collections.Event) {
	var mu sync.Mutex
	return func(e collections.Event) {
		mu.Lock()
		defer mu.Unlock()
		if jsonOutput {
			_ = printJSON(w, e)
			return
		}
		line := fmt.Sprintf("%s %-20s %s", dimStyle.Render(e.Time.Local().Format("15:04:05")), e.Type, e.Collection)
		switch {
		case e.NewName != "":
			line += " -> " + e.NewName
		case e.DocumentID != "":
			line += fmt.Sprintf(" %s (%d chunks)", e.DocumentID, e.ChunkCount)
		}
		fmt.Fprintln(w, line)
	}
}
