// Package query is a thin composition layer over Store, VectorIndex, and
// Embedder: it answers read-only questions about the corpus without adding
// any ordering or fusion logic beyond what each underlying component
// already applies.
package query

import "github.com/corpuskit/corpuskit/internal/store"

// FileInfo is the get_file_info result: a FileRecord joined with its
// ContentAnalysis (nil if the file was never analyzed) and chunk count.
type FileInfo struct {
	File      *store.FileRecord
	Analysis  *store.ContentAnalysis
	ChunkCount int
}

// Stats combines Store and VectorIndex summaries for get_stats.
type Stats struct {
	Store       store.Stats
	VectorIndex VectorIndexStats
}

// VectorIndexStats mirrors vectorindex.IndexStats without the query
// package depending on vectorindex's internal time-pointer shape for
// callers that only need the counts.
type VectorIndexStats struct {
	MajorVectorCount int
	MinorVectorCount int
	StaleVectorCount int
	IndexedFileCount int
	NeedsCompaction  bool
}
