package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/ingest"
	"github.com/fyrsmithlabs/docuchat/internal/sanitize"
)

var (
	addCollection string
	addText       string
	addDocID      string
)

var docsCmd = &cobra.Command{
	Use:     "docs",
	Aliases: []string{"documents", "doc"},
	Short:   "Manage the documents of a collection",
}

var docsListCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List the documents of a collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsList,
}

var docsAddCmd = &cobra.Command{
	Use:   "add [files...]",
	Short: "Add files or raw text to a collection",
	Long: `Parse files and add them as documents. Supported formats are plain text,
Markdown, HTML, PDF and DOCX. The file name becomes the document id, and
the collection defaults to the name of the first file.

Examples:
  # Upload two files into one collection
  docuchat docs add --collection "Q1 Reports" q1.pdf summary.md

  # Add a snippet of text under an explicit id
  docuchat docs add --collection notes --id standup --text "Ship on Friday."`,
	RunE: runDocsAdd,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <collection> <document-id>",
	Short: "Delete one document and all of its chunks",
	Args:  cobra.ExactArgs(2),
	RunE:  runDocsDelete,
}

func init() {
	docsAddCmd.Flags().StringVarP(&addCollection, "collection", "c", "", "target collection")
	docsAddCmd.Flags().StringVar(&addText, "text", "", "add this text instead of files")
	docsAddCmd.Flags().StringVar(&addDocID, "id", "", "document id for --text (default: generated)")

	docsCmd.AddCommand(docsListCmd, docsAddCmd, docsDeleteCmd)
	rootCmd.AddCommand(docsCmd)
}

var documentHeaders = []string{"DOCUMENT", "UPLOADED", "TOKENS", "MODEL", "CHUNKS"}

func documentRows(docs []collections.DocumentInfo) [][]string {
	rows := make([][]string, len(docs))
	for i, d := range docs {
		rows[i] = []string{
			d.ID,
			formatDate(d.UploadDate),
			strconv.Itoa(d.TokenCount),
			d.Model,
			strconv.Itoa(d.ChunkCount),
		}
	}
	return rows
}

func runDocsList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		docs, err := a.store.ListDocuments(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, docs)
		}
		if len(docs) == 0 {
			fmt.Fprintf(out, "No documents in %s.\n", sanitize.CollectionName(args[0]))
			return nil
		}
		printTable(out, documentHeaders, documentRows(docs))
		return nil
	})
}

func runDocsAdd(cmd *cobra.Command, args []string) error {
	switch {
	case addText != "" && len(args) > 0:
		return errors.New("pass either files or --text, not both")
	case addText != "" && addCollection == "":
		return errors.New("--text requires --collection")
	case addText == "" && len(args) == 0:
		return errors.New("no files given")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		if addText != "" {
			res, err := a.store.AddDocument(ctx, addCollection, addText, nil, addDocID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(out, res)
			}
			if res.DocumentID == "" {
				fmt.Fprintf(out, "Nothing to add: the text is empty. Collection %s (%s)\n", res.Collection, res.Status)
				return nil
			}
			fmt.Fprintf(out, "%s added %s to %s (%d chunks)\n", okStyle.Render("✓"), res.DocumentID, res.Collection, res.ChunkCount)
			return nil
		}

		files := make([]ingest.File, len(args))
		for i, p := range args {
			files[i] = ingest.PathFile(p)
		}
		result := a.ingester.ProcessFiles(ctx, addCollection, files)
		if jsonOutput {
			if err := printJSON(out, result); err != nil {
				return err
			}
		} else {
			printBatch(cmd, result)
		}
		if result.SuccessCount == 0 {
			return fmt.Errorf("no file was added to %s", result.CollectionName)
		}
		return nil
	})
}

func printBatch(cmd *cobra.Command, r ingest.BatchResult) {
	out := cmd.OutOrStdout()
	for _, f := range r.ProcessedFiles {
		line := fmt.Sprintf("%s %s: %d tokens, %d chunks, model %s", okStyle.Render("✓"), f.Filename, f.Tokens, f.Chunks, f.Model)
		if f.Redactions > 0 {
			line += dimStyle.Render(fmt.Sprintf(" (%d secrets redacted)", f.Redactions))
		}
		fmt.Fprintln(out, line)
	}
	for _, f := range r.FailedFiles {
		fmt.Fprintf(out, "%s %s: %s\n", errStyle.Render("✗"), f.Filename, f.Reason)
	}
	fmt.Fprintf(out, "%d of %d files added to %s, %d tokens\n",
		r.SuccessCount, len(r.ProcessedFiles)+len(r.FailedFiles), r.CollectionName, r.TotalTokens)
}

func runDocsDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		name := sanitize.CollectionName(args[0])
		found, err := a.store.DeleteDocument(ctx, name, args[1])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("document %s not found in %s: %w", args[1], name, collections.ErrNotFound)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]string{"collection": name, "deleted": args[1]})
		}
		fmt.Fprintf(out, "%s deleted %s from %s\n", okStyle.Render("✓"), args[1], name)
		return nil
	})
}
