package vectorindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/corpuskit/corpuskit/internal/corpuserr"
)

// Chunk is the minimal per-chunk metadata VectorIndex needs from a
// caller's chunk envelope; it's deliberately narrower than
// store.ChunkEnvelope so this package doesn't need to depend on store's
// full chunk shape.
type Chunk struct {
	Path       string
	FileName   string
	FileType   string
	ChunkIndex int
	ChunkText  string
	Keywords   []string
}

// VectorIndex is the two-tier ANN manager: a Major tier queried first, a
// Minor tier for everything added since the last compaction, one
// monotonic vector-id space shared across both, and a stale-id set that
// survives compaction.
type VectorIndex struct {
	mu sync.RWMutex

	dataDir    string
	dimensions int

	major *tierIndex
	minor *tierIndex
	state IndexState
}

// New opens (or initializes) a VectorIndex rooted at dataDir for vectors
// of the given dimensionality. It attempts MigrateFromLegacy and then
// loads any existing two-tier files.
func New(dataDir string, dimensions int) (*VectorIndex, error) {
	vi := &VectorIndex{
		dataDir:    dataDir,
		dimensions: dimensions,
		major:      newTierIndex(TierMajor),
		minor:      newTierIndex(TierMinor),
		state:      newIndexState(),
	}

	if err := vi.loadState(); err != nil {
		return nil, corpuserr.VectorIndexError("load_state_failed", err.Error())
	}
	if _, err := vi.major.load(dataDir, majorIndexFile, majorMetaFile); err != nil {
		return nil, corpuserr.VectorIndexError("load_major_failed", err.Error())
	}
	if _, err := vi.minor.load(dataDir, minorIndexFile, minorMetaFile); err != nil {
		return nil, corpuserr.VectorIndexError("load_minor_failed", err.Error())
	}

	if _, err := vi.MigrateFromLegacy(); err != nil {
		return nil, err
	}

	return vi, nil
}

// Add validates and normalizes embeddings, assigns monotonic vector ids,
// and inserts them into the Minor tier only. If path was already indexed,
// its previous vector ids are moved to the stale set before the new
// record replaces it.
func (vi *VectorIndex) Add(chunks []Chunk, embeddings [][]float32, fileHash string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if len(chunks) != len(embeddings) {
		return 0, corpuserr.VectorIndexError("dimension_mismatch",
			fmt.Sprintf("%d chunks but %d embeddings", len(chunks), len(embeddings)))
	}
	for _, v := range embeddings {
		if len(v) != vi.dimensions {
			return 0, corpuserr.VectorIndexError("dimension_mismatch",
				fmt.Sprintf("embedding has %d dims, expected %d", len(v), vi.dimensions))
		}
	}

	vi.mu.Lock()
	defer vi.mu.Unlock()

	baseID := uint64(vi.state.MajorVectorCount + vi.state.MinorVectorCount)
	newIDs := make([]uint64, len(chunks))

	var path string
	for i, chunk := range chunks {
		id := baseID + uint64(i)
		newIDs[i] = id
		path = chunk.Path

		vec := normalizeL2Float32(embeddings[i])
		vi.minor.add(id, vec, VectorRecord{
			Path:       chunk.Path,
			ChunkIndex: chunk.ChunkIndex,
			ChunkText:  chunk.ChunkText,
			FileName:   chunk.FileName,
			FileType:   chunk.FileType,
			Keywords:   chunk.Keywords,
		})
	}

	vi.state.MinorVectorCount = vi.minor.count()
	now := time.Now().UTC()
	vi.state.MinorBuildTimestamp = &now

	if path != "" {
		if prev, exists := vi.state.IndexedFiles[path]; exists {
			for _, staleID := range prev.VectorIDs {
				vi.state.StaleVectorIDs[staleID] = struct{}{}
			}
		}
		vi.state.IndexedFiles[path] = IndexedFileInfo{Hash: fileHash, Tier: TierMinor, VectorIDs: newIDs}
	}

	if err := vi.minor.save(vi.dataDir, minorIndexFile, minorMetaFile); err != nil {
		return 0, corpuserr.VectorIndexError("save_minor_failed", err.Error())
	}
	if err := vi.saveState(); err != nil {
		return 0, corpuserr.VectorIndexError("save_state_failed", err.Error())
	}

	return len(chunks), nil
}

// Search queries both tiers, merges, deduplicates by (path, chunk_index)
// keeping the best score, and returns the top_k results.
func (vi *VectorIndex) Search(queryVec []float32, topK int, filterStale bool) ([]SearchResult, error) {
	if len(queryVec) != vi.dimensions {
		return nil, corpuserr.VectorIndexError("dimension_mismatch",
			fmt.Sprintf("query has %d dims, expected %d", len(queryVec), vi.dimensions))
	}
	if topK <= 0 {
		return nil, nil
	}

	vi.mu.RLock()
	defer vi.mu.RUnlock()

	query := normalizeL2Float32(queryVec)

	majorK := min(2*topK, vi.major.count())
	minorK := min(2*topK, vi.minor.count())

	var all []SearchResult
	all = append(all, vi.collect(vi.major, query, majorK, filterStale)...)
	all = append(all, vi.collect(vi.minor, query, minorK, filterStale)...)

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })

	seen := make(map[string]struct{}, len(all))
	out := make([]SearchResult, 0, topK)
	for _, r := range all {
		key := fmt.Sprintf("%s\x00%d", r.Path, r.ChunkIndex)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

func (vi *VectorIndex) collect(tier *tierIndex, query []float32, k int, filterStale bool) []SearchResult {
	hits := tier.search(query, k)
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if filterStale {
			if _, stale := vi.state.StaleVectorIDs[h.id]; stale {
				continue
			}
		}
		rec := tier.records[h.id]
		out = append(out, SearchResult{
			VectorID:   h.id,
			Path:       rec.Path,
			ChunkIndex: rec.ChunkIndex,
			ChunkText:  rec.ChunkText,
			Score:      h.score,
			Tier:       tier.tier,
		})
	}
	return out
}

// MarkFileStale moves every vector id tracked for path into the stale set
// and stops tracking path. Returns the ids that were marked.
func (vi *VectorIndex) MarkFileStale(path string) ([]uint64, error) {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	info, exists := vi.state.IndexedFiles[path]
	if !exists {
		return nil, nil
	}
	for _, id := range info.VectorIDs {
		vi.state.StaleVectorIDs[id] = struct{}{}
	}
	delete(vi.state.IndexedFiles, path)

	if err := vi.saveState(); err != nil {
		return nil, corpuserr.VectorIndexError("save_state_failed", err.Error())
	}
	return info.VectorIDs, nil
}

// IsFileIndexed reports whether path is tracked, and — when hash is
// non-empty — whether the tracked hash still matches.
func (vi *VectorIndex) IsFileIndexed(path, hash string) bool {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	info, exists := vi.state.IndexedFiles[path]
	if !exists {
		return false
	}
	if hash == "" {
		return true
	}
	return info.Hash == hash
}

// Stats reports the index's current tier sizes and staleness.
func (vi *VectorIndex) Stats() IndexStats {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	return IndexStats{
		MajorVectorCount:    vi.state.MajorVectorCount,
		MinorVectorCount:    vi.state.MinorVectorCount,
		StaleVectorCount:    len(vi.state.StaleVectorIDs),
		IndexedFileCount:    len(vi.state.IndexedFiles),
		MajorBuildTimestamp: vi.state.MajorBuildTimestamp,
		MinorBuildTimestamp: vi.state.MinorBuildTimestamp,
		NeedsCompaction:     vi.needsCompactionLocked(),
	}
}

// NeedsCompaction reports whether Minor has grown large enough, in
// absolute count or relative to Major, to warrant folding into Major.
func (vi *VectorIndex) NeedsCompaction() bool {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.needsCompactionLocked()
}

func (vi *VectorIndex) needsCompactionLocked() bool {
	if vi.state.MinorVectorCount >= CompactionThreshold {
		return true
	}
	if vi.state.MajorVectorCount > 0 {
		ratio := float64(vi.state.MinorVectorCount) / float64(vi.state.MajorVectorCount)
		if ratio > CompactionRatio {
			return true
		}
	}
	return false
}

// CompactionStats summarizes a Compact() run.
type CompactionStats struct {
	PreMajor  int
	PreMinor  int
	PostMajor int
}

// Compact appends every Minor vector into Major (preserving vector_id
// ordering), merges metadata, retags previously-Minor files as Major, and
// clears Minor. Stale ids are retained as-is.
func (vi *VectorIndex) Compact() (CompactionStats, error) {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	stats := CompactionStats{PreMajor: vi.major.count(), PreMinor: vi.minor.count()}
	if stats.PreMinor == 0 {
		stats.PostMajor = stats.PreMajor
		return stats, nil
	}

	ids := make([]uint64, 0, len(vi.minor.records))
	for id := range vi.minor.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		vi.major.add(id, vi.minor.vectors[id], vi.minor.records[id])
	}

	for path, info := range vi.state.IndexedFiles {
		if info.Tier == TierMinor {
			info.Tier = TierMajor
			vi.state.IndexedFiles[path] = info
		}
	}

	vi.state.MajorVectorCount = vi.major.count()
	now := time.Now().UTC()
	vi.state.MajorBuildTimestamp = &now
	vi.state.MinorVectorCount = 0
	vi.state.MinorBuildTimestamp = nil

	if err := vi.major.save(vi.dataDir, majorIndexFile, majorMetaFile); err != nil {
		return stats, corpuserr.VectorIndexError("save_major_failed", err.Error())
	}

	vi.minor = newTierIndex(TierMinor)
	indexPath := filepath.Join(vi.dataDir, minorIndexFile)
	metaPath := filepath.Join(vi.dataDir, minorMetaFile)
	os.Remove(indexPath)
	os.Remove(metaPath)

	if err := vi.saveState(); err != nil {
		return stats, corpuserr.VectorIndexError("save_state_failed", err.Error())
	}

	stats.PostMajor = vi.state.MajorVectorCount
	return stats, nil
}

// RebuildMajor fully replaces Major from the given chunks/embeddings,
// clears Minor, zeroes the stale set, and rebuilds indexed_files from
// scratch (vector ids are reassigned densely from 0).
func (vi *VectorIndex) RebuildMajor(chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) == 0 {
		return corpuserr.VectorIndexError("empty_rebuild", "no chunks provided")
	}
	if len(chunks) != len(embeddings) {
		return corpuserr.VectorIndexError("dimension_mismatch",
			fmt.Sprintf("%d chunks but %d embeddings", len(chunks), len(embeddings)))
	}

	vi.mu.Lock()
	defer vi.mu.Unlock()

	newMajor := newTierIndex(TierMajor)
	indexedFiles := make(map[string]IndexedFileInfo)

	for i, chunk := range chunks {
		vec := normalizeL2Float32(embeddings[i])
		id := uint64(i)
		newMajor.add(id, vec, VectorRecord{
			Path:       chunk.Path,
			ChunkIndex: chunk.ChunkIndex,
			ChunkText:  chunk.ChunkText,
			FileName:   chunk.FileName,
			FileType:   chunk.FileType,
			Keywords:   chunk.Keywords,
		})

		info := indexedFiles[chunk.Path]
		info.Tier = TierMajor
		info.VectorIDs = append(info.VectorIDs, id)
		indexedFiles[chunk.Path] = info
	}

	if err := newMajor.save(vi.dataDir, majorIndexFile, majorMetaFile); err != nil {
		return corpuserr.VectorIndexError("save_major_failed", err.Error())
	}

	vi.major = newMajor
	vi.minor = newTierIndex(TierMinor)
	os.Remove(filepath.Join(vi.dataDir, minorIndexFile))
	os.Remove(filepath.Join(vi.dataDir, minorMetaFile))

	now := time.Now().UTC()
	vi.state = IndexState{
		MajorBuildTimestamp: &now,
		MajorVectorCount:    newMajor.count(),
		MinorVectorCount:    0,
		IndexedFiles:        indexedFiles,
		StaleVectorIDs:      make(map[uint64]struct{}),
	}

	return vi.saveState()
}

// MigrateFromLegacy renames the single-tier legacy files to the Major
// tier's names and reconstructs indexed_files from the legacy metadata,
// when Major doesn't already exist but a legacy index does. Returns false
// when no migration was necessary.
func (vi *VectorIndex) MigrateFromLegacy() (bool, error) {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	majorPath := filepath.Join(vi.dataDir, majorIndexFile)
	legacyPath := filepath.Join(vi.dataDir, legacyIndexFile)

	if _, err := os.Stat(majorPath); err == nil {
		return false, nil
	}
	if _, err := os.Stat(legacyPath); err != nil {
		return false, nil
	}

	if err := os.Rename(legacyPath, majorPath); err != nil {
		return false, corpuserr.VectorIndexError("migrate_rename_index_failed", err.Error())
	}
	legacyMetaPath := filepath.Join(vi.dataDir, legacyMetaFile)
	majorMetaPath := filepath.Join(vi.dataDir, majorMetaFile)
	if _, err := os.Stat(legacyMetaPath); err == nil {
		if err := os.Rename(legacyMetaPath, majorMetaPath); err != nil {
			return false, corpuserr.VectorIndexError("migrate_rename_meta_failed", err.Error())
		}
	}

	if _, err := vi.major.load(vi.dataDir, majorIndexFile, majorMetaFile); err != nil {
		return false, corpuserr.VectorIndexError("migrate_load_failed", err.Error())
	}

	indexedFiles := make(map[string]IndexedFileInfo)
	for path, rec := range groupByPath(vi.major.records) {
		indexedFiles[path] = IndexedFileInfo{Tier: TierMajor, VectorIDs: rec}
	}

	now := time.Now().UTC()
	vi.state.MajorBuildTimestamp = &now
	vi.state.MajorVectorCount = vi.major.count()
	vi.state.IndexedFiles = indexedFiles

	if err := vi.saveState(); err != nil {
		return false, corpuserr.VectorIndexError("save_state_failed", err.Error())
	}
	return true, nil
}

func groupByPath(records map[uint64]VectorRecord) map[string][]uint64 {
	byPath := make(map[string][]uint64)
	ids := make([]uint64, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		path := records[id].Path
		if path == "" {
			continue
		}
		byPath[path] = append(byPath[path], id)
	}
	return byPath
}

// Close releases in-memory resources. Persisted state is already durable
// after every mutating call.
func (vi *VectorIndex) Close() error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	vi.major = nil
	vi.minor = nil
	return nil
}

func (vi *VectorIndex) saveState() error {
	staleIDs := make([]uint64, 0, len(vi.state.StaleVectorIDs))
	for id := range vi.state.StaleVectorIDs {
		staleIDs = append(staleIDs, id)
	}
	sort.Slice(staleIDs, func(i, j int) bool { return staleIDs[i] < staleIDs[j] })

	indexedFiles := make(map[string]jsonIndexedFile, len(vi.state.IndexedFiles))
	for path, info := range vi.state.IndexedFiles {
		indexedFiles[path] = jsonIndexedFile{Hash: info.Hash, Tier: info.Tier, VectorIDs: info.VectorIDs}
	}

	doc := jsonIndexState{
		MajorVectorCount: vi.state.MajorVectorCount,
		MinorVectorCount: vi.state.MinorVectorCount,
		IndexedFiles:     indexedFiles,
		StaleVectorIDs:   staleIDs,
	}
	if vi.state.MajorBuildTimestamp != nil {
		doc.MajorBuildTimestamp = vi.state.MajorBuildTimestamp.Format(time.RFC3339)
	}
	if vi.state.MinorBuildTimestamp != nil {
		doc.MinorBuildTimestamp = vi.state.MinorBuildTimestamp.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index state: %w", err)
	}

	if err := os.MkdirAll(vi.dataDir, 0o755); err != nil {
		return fmt.Errorf("create vector index dir: %w", err)
	}
	path := filepath.Join(vi.dataDir, stateFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write index state: %w", err)
	}
	return os.Rename(tmpPath, path)
}

func (vi *VectorIndex) loadState() error {
	path := filepath.Join(vi.dataDir, stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read index state: %w", err)
	}

	var doc jsonIndexState
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse index state: %w", err)
	}

	state := newIndexState()
	state.MajorVectorCount = doc.MajorVectorCount
	state.MinorVectorCount = doc.MinorVectorCount
	if doc.MajorBuildTimestamp != "" {
		if t, err := time.Parse(time.RFC3339, doc.MajorBuildTimestamp); err == nil {
			state.MajorBuildTimestamp = &t
		}
	}
	if doc.MinorBuildTimestamp != "" {
		if t, err := time.Parse(time.RFC3339, doc.MinorBuildTimestamp); err == nil {
			state.MinorBuildTimestamp = &t
		}
	}
	for path, info := range doc.IndexedFiles {
		state.IndexedFiles[path] = IndexedFileInfo{Hash: info.Hash, Tier: info.Tier, VectorIDs: info.VectorIDs}
	}
	for _, id := range doc.StaleVectorIDs {
		state.StaleVectorIDs[id] = struct{}{}
	}
	vi.state = state
	return nil
}
