package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpuskit/corpuskit/internal/orchestrator"
	"github.com/corpuskit/corpuskit/internal/output"
	"github.com/corpuskit/corpuskit/internal/store"
)

func newScanCmd() *cobra.Command {
	var workers int
	var force bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan a directory and ingest its files",
		Long: `Discovers candidate files under path, extracts and chunks their
content, derives keywords and embeddings, and records a ProcessingRun.

Unchanged files since the last successful run are skipped unless --force
is given. Exit code is 0 on full success, 1 if the run was interrupted or
fewer than half of the processed files succeeded, 2 on a fatal error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runScan(cmd, path, workers, force, jsonOut)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Worker pool size (0 uses config default)")
	cmd.Flags().BoolVar(&force, "force", false, "Reprocess every file regardless of stored mtime")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the ProcessingRun as JSON")

	return cmd
}

func runScan(cmd *cobra.Command, path string, workers int, force, jsonOut bool) error {
	eng, cleanup, err := openEngine(cmd, path)
	if err != nil {
		return exitWith(2, err)
	}
	defer cleanup()

	summary, err := eng.Orchestrator.ScanDirectory(cmd.Context(), orchestrator.Options{
		Root:    path,
		Workers: workers,
		Force:   force,
	})
	if err != nil {
		return exitWith(2, err)
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return exitWith(2, err)
		}
	} else {
		printScanSummary(output.New(cmd.OutOrStdout()), summary)
	}

	return scanExitError(summary)
}

func printScanSummary(out *output.Writer, summary *orchestrator.Summary) {
	total := 0
	for _, n := range summary.Run.Counters {
		total += n
	}
	out.Statusf("📂", "Scanned %s: %d files in %.2fs", summary.Run.Directory, total, summary.Run.DurationSeconds)
	for status, n := range summary.Run.Counters {
		out.Status("", fmt.Sprintf("  %s: %d", status, n))
	}
	if summary.Interrupted {
		out.Warning("scan was interrupted before exhausting the directory")
	}
}

// scanExitError maps a ProcessingRun onto spec.md §6's exit codes: 1 on
// interruption or a per-processed-file success rate below 50%, 0
// otherwise. Zero-file runs are never an error.
func scanExitError(summary *orchestrator.Summary) error {
	if summary.Interrupted {
		return exitWith(1, fmt.Errorf("scan: interrupted"))
	}

	processed := 0
	successes := 0
	for status, n := range summary.Run.Counters {
		if status == store.StatusSkipped {
			continue
		}
		processed += n
		if status == store.StatusSuccess {
			successes += n
		}
	}
	if processed > 0 && float64(successes)/float64(processed) < 0.5 {
		return exitWith(1, fmt.Errorf("scan: success rate %.0f%% below 50%% threshold (%d/%d)",
			100*float64(successes)/float64(processed), successes, processed))
	}
	return nil
}
