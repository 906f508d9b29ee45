package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docuchat/internal/answer"
	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/sanitize"
)

var (
	queryK      int
	askSources  bool
	askNoStream bool
)

var queryCmd = &cobra.Command{
	Use:   "query <collection> <text>",
	Short: "Find the chunks closest to a query",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuery,
}

var askCmd = &cobra.Command{
	Use:   "ask <collection> <question>",
	Short: "Answer a question from a collection",
	Long: `Answer a question with the configured LLM, grounded on the chunks of the
collection closest to the question. The answer is streamed as it is
generated.

Examples:
  docuchat ask Q1_Reports "What drove the revenue growth?"
  docuchat ask Q1_Reports "Summarize the risks" --sources`,
	Args: cobra.ExactArgs(2),
	RunE: runAsk,
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <file>",
	Short: "Summarize a document as bullet points",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummarize,
}

func init() {
	queryCmd.Flags().IntVarP(&queryK, "limit", "k", 0, "number of chunks to return (default: store.default_k)")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "print the chunks the answer was grounded on")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "print the answer only once it is complete")

	rootCmd.AddCommand(queryCmd, askCmd, summarizeCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		results, err := a.store.QueryDocuments(ctx, args[0], args[1], queryK)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, results)
		}
		if len(results) == 0 {
			fmt.Fprintf(out, "No matches in %s.\n", sanitize.CollectionName(args[0]))
			return nil
		}
		printResults(out, results)
		return nil
	})
}

func printResults(w io.Writer, results []collections.Result) {
	for i, r := range results {
		doc := r.Metadata[collections.KeyDocumentID]
		if doc == "" {
			doc = r.ID
		}
		fmt.Fprintf(w, "%s %s %s\n",
			headerStyle.Render(fmt.Sprintf("#%d", i+1)),
			doc,
			dimStyle.Render(fmt.Sprintf("chunk %s, distance %.3f", r.Metadata[collections.KeyChunkIndex], r.Distance)))
		fmt.Fprintln(w, strings.TrimSpace(r.Text))
		if i < len(results)-1 {
			fmt.Fprintln(w)
		}
	}
}

// streamTo returns a StreamFunc writing to w, or nil when streaming is off.
func streamTo(w io.Writer) answer.StreamFunc {
	if jsonOutput || askNoStream {
		return nil
	}
	return func(_ context.Context, chunk string) error {
		_, err := io.WriteString(w, chunk)
		return err
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		svc, err := a.answerService()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		stream := streamTo(out)
		ans, err := svc.Ask(ctx, args[0], nil, args[1], stream)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, ans)
		}
		if stream == nil {
			fmt.Fprint(out, ans.Text)
		}
		fmt.Fprintln(out)
		if !ans.Grounded() {
			fmt.Fprintln(out, dimStyle.Render("No matching chunks were found; the answer is not grounded on the collection."))
		}
		if askSources && ans.Grounded() {
			fmt.Fprintln(out)
			printResults(out, ans.Sources)
		}
		return nil
	})
}

func runSummarize(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		parsed, err := a.parser.Parse(filepath.Base(args[0]), f)
		if err != nil {
			return err
		}

		svc, err := a.answerService()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		stream := streamTo(out)
		summary, err := svc.Summarize(ctx, parsed.Text, stream)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, map[string]any{
				"filename": parsed.Filename,
				"tokens":   parsed.Choice.Tokens,
				"summary":  summary,
			})
		}
		if stream == nil {
			fmt.Fprint(out, summary)
		}
		fmt.Fprintln(out)
		return nil
	})
}
