package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpuskit/corpuskit/internal/output"
)

func newAutographCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autograph",
		Short: "Query and update the grounding-feedback knowledge graph",
	}

	cmd.AddCommand(newAutographLogCmd())
	cmd.AddCommand(newAutographSuggestCmd())
	return cmd
}

func newAutographLogCmd() *cobra.Command {
	var accepted, rejected, offered []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "log <context> <command>",
		Short: "Record which offered sources were accepted or rejected for a context",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutographLog(cmd, args[0], args[1], offered, accepted, rejected, jsonOut)
		},
	}

	cmd.Flags().StringSliceVar(&offered, "offered", nil, "Sources offered but neither accepted nor rejected")
	cmd.Flags().StringSliceVar(&accepted, "accepted", nil, "Sources the caller accepted")
	cmd.Flags().StringSliceVar(&rejected, "rejected", nil, "Sources the caller rejected")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the LogResult as JSON")

	return cmd
}

func runAutographLog(cmd *cobra.Command, context, command string, offered, accepted, rejected []string, jsonOut bool) error {
	eng, cleanup, err := openEngine(cmd, ".")
	if err != nil {
		return exitWith(2, err)
	}
	defer cleanup()

	result, err := eng.Autograph.Log(cmd.Context(), context, command, offered, accepted, rejected)
	if err != nil {
		return exitWith(2, fmt.Errorf("autograph log: %w", err))
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	output.New(cmd.OutOrStdout()).Successf("logged %d edges (accepted=%d rejected=%d ignored=%d)",
		result.EdgesCreated, result.Accepted, result.Rejected, result.Ignored)
	return nil
}

func newAutographSuggestCmd() *cobra.Command {
	var threshold float64
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "suggest <context>",
		Short: "Suggest sources for a context based on prior accepted/rejected edges",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutographSuggest(cmd, strings.Join(args, " "), threshold, jsonOut)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0.5, "Minimum similarity for a context to contribute, and minimum confidence for a suggestion")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output suggestions as JSON")

	return cmd
}

func runAutographSuggest(cmd *cobra.Command, context string, threshold float64, jsonOut bool) error {
	eng, cleanup, err := openEngine(cmd, ".")
	if err != nil {
		return exitWith(2, err)
	}
	defer cleanup()

	suggestions, err := eng.Autograph.Suggest(cmd.Context(), context, threshold)
	if err != nil {
		return exitWith(2, fmt.Errorf("autograph suggest: %w", err))
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(suggestions)
	}

	out := output.New(cmd.OutOrStdout())
	if len(suggestions) == 0 {
		out.Status("", fmt.Sprintf("no suggestions for %q", context))
		return nil
	}
	out.Statusf("💡", "Suggestions for %q:", context)
	for i, s := range suggestions {
		out.Statusf("", "%d. %s (confidence %.2f)", i+1, s.Source, s.Confidence)
	}
	return nil
}
