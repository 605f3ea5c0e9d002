package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpuskit/corpuskit/internal/output"
)

func newCompactCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Fold the VectorIndex's minor tier into major",
		Long: `Moves every vector in the minor tier into the major tier, preserving
the total live count (post_major = pre_major + pre_minor, post_minor = 0).
Stale ids remain stale after compaction.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompact(cmd, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output compaction stats as JSON")

	return cmd
}

func runCompact(cmd *cobra.Command, jsonOut bool) error {
	eng, cleanup, err := openEngine(cmd, ".")
	if err != nil {
		return exitWith(2, err)
	}
	defer cleanup()

	if !eng.VectorIndex.NeedsCompaction() {
		stats := eng.VectorIndex.Stats()
		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		output.New(cmd.OutOrStdout()).Status("", "compaction not needed yet")
		return nil
	}

	result, err := eng.VectorIndex.Compact()
	if err != nil {
		return exitWith(2, fmt.Errorf("compact: %w", err))
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("compacted: pre_major=%d pre_minor=%d post_major=%d", result.PreMajor, result.PreMinor, result.PostMajor)
	return nil
}
