package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpuskit/corpuskit/internal/output"
)

func newStatsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show Store and VectorIndex statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

func runStats(cmd *cobra.Command, jsonOut bool) error {
	eng, cleanup, err := openEngine(cmd, ".")
	if err != nil {
		return exitWith(2, err)
	}
	defer cleanup()

	stats, err := eng.Query.GetStats(cmd.Context())
	if err != nil {
		return exitWith(2, fmt.Errorf("stats: %w", err))
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	out := output.New(cmd.OutOrStdout())
	out.Status("📊", "Store")
	out.Status("", fmt.Sprintf("  files:  %d", stats.Store.TotalFiles))
	out.Status("", fmt.Sprintf("  chunks: %d", stats.Store.TotalChunks))
	out.Status("", fmt.Sprintf("  runs:   %d", stats.Store.TotalRuns))
	for status, n := range stats.Store.ByStatus {
		out.Status("", fmt.Sprintf("  %s: %d", status, n))
	}
	out.Newline()
	out.Status("📐", "VectorIndex")
	out.Status("", fmt.Sprintf("  major: %d", stats.VectorIndex.MajorVectorCount))
	out.Status("", fmt.Sprintf("  minor: %d", stats.VectorIndex.MinorVectorCount))

	return nil
}
