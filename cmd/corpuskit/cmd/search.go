package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpuskit/corpuskit/internal/output"
	"github.com/corpuskit/corpuskit/internal/store"
	"github.com/corpuskit/corpuskit/internal/vectorindex"
)

type searchOptions struct {
	mode    string // "fulltext", "keyword", "semantic", "metadata"
	limit   int
	jsonOut bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed corpus",
		Long: `Search the indexed corpus via one of the four orthogonal query
surfaces: full-text (FTS5, supports phrase/AND/OR/NOT), keyword (matches
stored keyword projections), semantic (embedding similarity), or metadata
(file-name substring matching).

Examples:
  corpuskit search "retry logic"
  corpuskit search "retry AND backoff" --mode fulltext
  corpuskit search "distributed consensus" --mode semantic
  corpuskit search error --mode keyword --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "fulltext", "Search surface: fulltext, keyword, semantic, metadata")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	eng, cleanup, err := openEngine(cmd, ".")
	if err != nil {
		return exitWith(2, err)
	}
	defer cleanup()

	ctx := cmd.Context()
	var results any
	switch opts.mode {
	case "fulltext":
		results, err = eng.Query.FullTextSearch(ctx, query, opts.limit)
	case "keyword":
		results, err = eng.Query.SearchByKeywords(ctx, strings.Fields(query), opts.limit)
	case "semantic":
		results, err = eng.Query.SemanticSearch(ctx, query, opts.limit)
	case "metadata":
		results, err = eng.Query.SearchFiles(ctx, store.MetadataFilter{NameContains: query}, opts.limit)
	default:
		return exitWith(2, fmt.Errorf("search: unknown mode %q (want fulltext, keyword, semantic, or metadata)", opts.mode))
	}
	if err != nil {
		return exitWith(2, fmt.Errorf("search: %w", err))
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	printSearchResults(output.New(cmd.OutOrStdout()), query, opts.mode, results)
	return nil
}

func printSearchResults(out *output.Writer, query, mode string, results any) {
	count := resultCount(results)
	if count == 0 {
		out.Status("", fmt.Sprintf("No %s results for %q", mode, query))
		return
	}
	out.Statusf("🔍", "Found %d %s results for %q:", count, mode, query)
	out.Newline()

	switch r := results.(type) {
	case []*store.FTSResult:
		for i, hit := range r {
			loc := hit.Path
			if hit.ChunkIndex != nil {
				loc = fmt.Sprintf("%s#%d", hit.Path, *hit.ChunkIndex)
			}
			out.Statusf("", "%d. %s (rank %.3f)", i+1, loc, hit.Rank)
			out.Status("", "   "+hit.Snippet)
		}
	case []*store.KeywordMatch:
		for i, m := range r {
			out.Statusf("", "%d. %s", i+1, m.File.Path)
			out.Status("", "   matched: "+strings.Join(m.MatchedKeywords, ", "))
		}
	case []*store.FileRecord:
		for i, f := range r {
			out.Statusf("", "%d. %s (%d bytes)", i+1, f.Path, f.Size)
		}
	case []vectorindex.SearchResult:
		for i, hit := range r {
			out.Statusf("", "%d. %s#%d (score %.3f, tier=%s)", i+1, hit.Path, hit.ChunkIndex, hit.Score, hit.Tier)
		}
	}
}

func resultCount(results any) int {
	switch r := results.(type) {
	case []*store.FTSResult:
		return len(r)
	case []*store.KeywordMatch:
		return len(r)
	case []*store.FileRecord:
		return len(r)
	case []vectorindex.SearchResult:
		return len(r)
	default:
		return 0
	}
}
