package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/pipeline"
)

var queryCmd = &cobra.Command{
	Use:   "query <mutation> [mutation...]",
	Short: "Query clinical trials for one or more mutations",
	Long: `Runs a one-shot query against clinicaltrials.gov and prints the
markdown report. Multiple mutations run as a batch with bounded
concurrency.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		minRank, _ := cmd.Flags().GetInt("min-rank")
		maxRank, _ := cmd.Flags().GetInt("max-rank")

		var report string
		if len(args) == 1 {
			result, err := a.pipeline.QueryTrials(cmd.Context(), args[0], minRank, maxRank)
			if err != nil {
				return err
			}
			if result.FromCache {
				a.logger.Debug("served from cache", "mutation", result.Mutation)
			}
			report = result.Summary
		} else {
			results, err := a.pipeline.BatchQueryTrials(cmd.Context(), args)
			if err != nil {
				return err
			}
			// Per-mutation failures are part of the combined report.
			report = pipeline.CombineSummaries(results)
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderMarkdown(report))
		return nil
	},
}

// renderMarkdown pretty-prints through glamour when stdout is a terminal,
// otherwise passes the raw markdown through for piping.
func renderMarkdown(md string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithColorProfile(termenv.ColorProfile()),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().Int("min-rank", 1, "First result rank (1-based)")
	queryCmd.Flags().Int("max-rank", 10, "Last result rank")
}
