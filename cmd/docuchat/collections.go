package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docuchat/internal/sanitize"
)

var (
	createMetadata map[string]string
	deleteConfirm  bool
)

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"collection", "col"},
	Short:   "Manage collections",
	Long: `Create, inspect, rename and delete collections.

Collection names are normalized before use: "Q1 Reports" becomes
"Q1_Reports". Every command accepts either form.`,
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections with their document and chunk counts",
	Args:  cobra.NoArgs,
	RunE:  runCollectionsList,
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty collection",
	Long: `Create an empty collection. Creating a collection that already exists
leaves it untouched.

Examples:
  docuchat collections create "Q1 Reports"
  docuchat collections create notes --meta owner=finance`,
	Args: cobra.ExactArgs(1),
	RunE: runCollectionsCreate,
}

var collectionsInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show a collection and its documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionsInfo,
}

var collectionsRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a collection, moving all of its chunks",
	Long: `Rename a collection. Every chunk is copied to the new collection before
the old one is removed. An interrupted rename is finished or rolled back
the next time the store is opened.`,
	Args: cobra.ExactArgs(2),
	RunE: runCollectionsRename,
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection and all of its documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionsDelete,
}

func init() {
	collectionsCreateCmd.Flags().StringToStringVar(&createMetadata, "meta", nil, "collection metadata as key=value pairs")
	collectionsDeleteCmd.Flags().BoolVarP(&deleteConfirm, "yes", "y", false, "confirm the deletion")

	collectionsCmd.AddCommand(
		collectionsListCmd,
		collectionsCreateCmd,
		collectionsInfoCmd,
		collectionsRenameCmd,
		collectionsDeleteCmd,
	)
	rootCmd.AddCommand(collectionsCmd)
}

type collectionSummary struct {
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
}

func runCollectionsList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		names, err := a.store.ListCollections(ctx)
		if err != nil {
			return err
		}
		summaries := make([]collectionSummary, 0, len(names))
		for _, name := range names {
			info, err := a.store.GetCollectionInfo(ctx, name)
			if err != nil {
				return err
			}
			summaries = append(summaries, collectionSummary{
				Name:          info.Name,
				DocumentCount: info.DocumentCount,
				ChunkCount:    info.ChunkCount,
			})
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, summaries)
		}
		if len(summaries) == 0 {
			fmt.Fprintln(out, "No collections.")
			return nil
		}
		rows := make([][]string, len(summaries))
		for i, s := range summaries {
			rows[i] = []string{s.Name, strconv.Itoa(s.DocumentCount), strconv.Itoa(s.ChunkCount)}
		}
		printTable(out, []string{"COLLECTION", "DOCUMENTS", "CHUNKS"}, rows)
		return nil
	})
}

func runCollectionsCreate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		name, status, err := a.store.CreateCollection(ctx, args[0], createMetadata)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]string{"name": name, "status": string(status)})
		}
		fmt.Fprintf(out, "%s collection %s (%s)\n", okStyle.Render("✓"), name, status)
		return nil
	})
}

func runCollectionsInfo(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		info, err := a.store.GetCollectionInfo(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, info)
		}

		fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Collection"), info.Name)
		if !info.CreatedAt.IsZero() {
			fmt.Fprintf(out, "%s %s %s\n", headerStyle.Render("Created   "),
				info.CreatedAt.Local().Format("2006-01-02 15:04"),
				dimStyle.Render("("+formatAge(time.Since(info.CreatedAt))+" ago)"))
		}
		fmt.Fprintf(out, "%s %d documents, %d chunks\n", headerStyle.Render("Contents  "), info.DocumentCount, info.ChunkCount)
		if len(info.Documents) > 0 {
			printTable(out, documentHeaders, documentRows(info.Documents))
		}
		return nil
	})
}

func runCollectionsRename(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		newName, err := a.store.RenameCollection(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]string{"old_name": sanitize.CollectionName(args[0]), "new_name": newName})
		}
		fmt.Fprintf(out, "%s renamed %s to %s\n", okStyle.Render("✓"), sanitize.CollectionName(args[0]), newName)
		return nil
	})
}

func runCollectionsDelete(cmd *cobra.Command, args []string) error {
	name := sanitize.CollectionName(args[0])
	if !deleteConfirm {
		return fmt.Errorf("refusing to delete collection %s and all of its documents without --yes", name)
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.store.DeleteCollection(ctx, name); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]string{"deleted": name})
		}
		fmt.Fprintf(out, "%s deleted collection %s\n", okStyle.Render("✓"), name)
		return nil
	})
}
