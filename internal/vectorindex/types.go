// Package vectorindex implements the two-tier ANN vector store: a large,
// mostly-static Major index and a small, append-only Minor index sharing
// one monotonic vector-id space, with staleness tracking, compaction, and
// query-time fusion across both tiers.
package vectorindex

import "time"

// Tier identifies which ANN container owns a vector.
type Tier string

const (
	TierMajor Tier = "major"
	TierMinor Tier = "minor"
)

const (
	// CompactionThreshold triggers compaction once the Minor tier holds at
	// least this many vectors.
	CompactionThreshold = 1000
	// CompactionRatio triggers compaction once Minor exceeds this fraction
	// of Major's size.
	CompactionRatio = 0.10
)

// Persistence file names, fixed by the on-disk layout contract: a
// VectorIndex's data directory always contains exactly these files (plus
// the two legacy single-tier names consumed only by MigrateFromLegacy).
const (
	majorIndexFile = "file_search_major.faiss"
	majorMetaFile  = "file_search_major_meta.json"
	minorIndexFile = "file_search_minor.faiss"
	minorMetaFile  = "file_search_minor_meta.json"
	stateFile      = "file_search_index_state.json"

	legacyIndexFile = "file_search.faiss"
	legacyMetaFile  = "file_search_meta.json"
)

// VectorRecord is the metadata mirror kept alongside a vector's entry in
// its tier's ANN graph; the raw vector itself lives in the graph (and, for
// cross-restart compaction, a persisted sidecar — see tier.go).
type VectorRecord struct {
	VectorID   uint64
	Tier       Tier
	Path       string
	ChunkIndex int
	ChunkText  string
	FileName   string
	FileType   string
	Keywords   []string
}

// SearchResult is one ranked hit from VectorIndex.Search.
type SearchResult struct {
	VectorID   uint64
	Path       string
	ChunkIndex int
	ChunkText  string
	Score      float32
	Tier       Tier
}

// IndexStats summarizes a VectorIndex's current tier sizes and staleness,
// for get_stats composition alongside Store.Stats.
type IndexStats struct {
	MajorVectorCount    int
	MinorVectorCount    int
	StaleVectorCount    int
	IndexedFileCount    int
	MajorBuildTimestamp *time.Time
	MinorBuildTimestamp *time.Time
	NeedsCompaction     bool
}

// IndexedFileInfo tracks which vector ids belong to a file and in which
// tier, so a re-index can mark the old ones stale.
type IndexedFileInfo struct {
	Hash      string
	Tier      Tier
	VectorIDs []uint64
}

// IndexState is the persisted cross-tier bookkeeping: vector counts (which
// double as the basis for the next vector id), per-file tier/id tracking,
// and the stale-id set.
type IndexState struct {
	MajorBuildTimestamp *time.Time
	MinorBuildTimestamp *time.Time
	MajorVectorCount    int
	MinorVectorCount    int
	IndexedFiles        map[string]IndexedFileInfo
	StaleVectorIDs      map[uint64]struct{}
}

func newIndexState() IndexState {
	return IndexState{
		IndexedFiles:   make(map[string]IndexedFileInfo),
		StaleVectorIDs: make(map[uint64]struct{}),
	}
}

// jsonIndexState is IndexState's wire shape: timestamps as RFC3339
// strings and the stale-id set as a sorted slice, matching the
// {build_info, vectors:[...]} / IndexState JSON layout spec.md prescribes.
type jsonIndexState struct {
	MajorBuildTimestamp string           `json:"major_build_timestamp,omitempty"`
	MinorBuildTimestamp string           `json:"minor_build_timestamp,omitempty"`
	MajorVectorCount    int              `json:"major_vector_count"`
	MinorVectorCount    int              `json:"minor_vector_count"`
	IndexedFiles        map[string]jsonIndexedFile `json:"indexed_files"`
	StaleVectorIDs      []uint64         `json:"stale_vector_ids"`
}

type jsonIndexedFile struct {
	Hash      string   `json:"hash"`
	Tier      Tier     `json:"tier"`
	VectorIDs []uint64 `json:"vector_ids"`
}

// jsonTierMeta is the persisted {build_info, vectors:[...]} document for
// one tier's metadata file.
type jsonTierMeta struct {
	BuildInfo jsonBuildInfo      `json:"build_info"`
	Vectors   []jsonVectorRecord `json:"vectors"`
}

type jsonBuildInfo struct {
	BuildTimestamp string `json:"build_timestamp"`
	TotalVectors   int    `json:"total_vectors"`
	Tier           Tier   `json:"tier"`
}

// jsonVectorRecord mirrors VectorRecord plus the normalized vector, so a
// tier can be fully reconstructed (including for Compact's re-insertion
// into Major) without depending on the ANN graph exposing node vectors
// after a fresh Import.
type jsonVectorRecord struct {
	ID         uint64   `json:"id"`
	Path       string   `json:"file_path"`
	FileName   string   `json:"file_name"`
	FileType   string   `json:"file_type"`
	ChunkIndex int      `json:"chunk_index"`
	ChunkText  string   `json:"chunk_text"`
	Keywords   []string `json:"keywords,omitempty"`
	Vector     []float32 `json:"vector"`
}
