package vectorindex

import (
	"path/filepath"
	"testing"
)

const testDim = 4

// unitVec returns a deterministic vector pointing mostly along axis i, with
// a small amount of spread across the other axes so cosine similarity
// between distinct axes is nonzero but distinguishable.
func unitVec(i int) []float32 {
	v := make([]float32, testDim)
	for j := range v {
		if j == i%testDim {
			v[j] = 1.0
		} else {
			v[j] = 0.05
		}
	}
	return v
}

func chunkAt(path string, idx int) Chunk {
	return Chunk{Path: path, FileName: filepath.Base(path), FileType: "text", ChunkIndex: idx, ChunkText: "chunk text"}
}

func TestAdd_DimensionMismatchReturnsError(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = vi.Add([]Chunk{chunkAt("a.txt", 0)}, [][]float32{{1, 2}}, "hash1")
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestAdd_AssignsMonotonicVectorIDs(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := vi.Add([]Chunk{chunkAt("a.txt", 0), chunkAt("a.txt", 1)}, [][]float32{unitVec(0), unitVec(1)}, "hash1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 added, got %d", n)
	}

	n, err = vi.Add([]Chunk{chunkAt("b.txt", 0)}, [][]float32{unitVec(2)}, "hash2")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 added, got %d", n)
	}

	info, ok := vi.state.IndexedFiles["b.txt"]
	if !ok {
		t.Fatal("expected b.txt to be tracked")
	}
	if len(info.VectorIDs) != 1 || info.VectorIDs[0] != 2 {
		t.Fatalf("expected vector id 2 for b.txt, got %v", info.VectorIDs)
	}
}

func TestAdd_ReindexMarksOldVectorsStale(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := vi.Add([]Chunk{chunkAt("a.txt", 0)}, [][]float32{unitVec(0)}, "hash1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	oldIDs := append([]uint64(nil), vi.state.IndexedFiles["a.txt"].VectorIDs...)

	if _, err := vi.Add([]Chunk{chunkAt("a.txt", 0)}, [][]float32{unitVec(1)}, "hash2"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	for _, id := range oldIDs {
		if _, stale := vi.state.StaleVectorIDs[id]; !stale {
			t.Fatalf("expected old vector id %d to be stale", id)
		}
	}
	if vi.state.IndexedFiles["a.txt"].Hash != "hash2" {
		t.Fatalf("expected a.txt hash updated to hash2, got %s", vi.state.IndexedFiles["a.txt"].Hash)
	}
}

func TestSearch_MergesBothTiersDedupsAndTruncates(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := vi.Add([]Chunk{chunkAt("a.txt", 0), chunkAt("b.txt", 0)}, [][]float32{unitVec(0), unitVec(1)}, "hash1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	stats, err := vi.Compact()
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if stats.PostMajor != 2 {
		t.Fatalf("expected 2 major vectors after compact, got %d", stats.PostMajor)
	}

	if _, err := vi.Add([]Chunk{chunkAt("c.txt", 0)}, [][]float32{unitVec(2)}, "hash2"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := vi.Search(unitVec(0), 2, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Path != "a.txt" {
		t.Fatalf("expected closest match a.txt, got %s", results[0].Path)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatal("expected results sorted by descending score")
		}
	}

	seen := make(map[string]struct{})
	for _, r := range results {
		key := r.Path
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate path %s in results", r.Path)
		}
		seen[key] = struct{}{}
	}
}

func TestSearch_DimensionMismatchReturnsError(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := vi.Search([]float32{1, 2}, 5, true); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestNeedsCompaction_ThresholdAndRatio(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if vi.NeedsCompaction() {
		t.Fatal("expected empty index to not need compaction")
	}

	vi.state.MajorVectorCount = 100
	vi.state.MinorVectorCount = 5
	if vi.NeedsCompaction() {
		t.Fatal("5% minor/major ratio should not need compaction")
	}

	vi.state.MinorVectorCount = 11
	if !vi.NeedsCompaction() {
		t.Fatal("11% minor/major ratio should need compaction")
	}

	vi.state.MajorVectorCount = 0
	vi.state.MinorVectorCount = CompactionThreshold
	if !vi.NeedsCompaction() {
		t.Fatal("minor count at threshold should need compaction")
	}
}

func TestCompact_MergesMinorIntoMajorAndClearsMinor(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := vi.Add([]Chunk{chunkAt("a.txt", 0)}, [][]float32{unitVec(0)}, "hash1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	vi.state.StaleVectorIDs[999] = struct{}{}

	stats, err := vi.Compact()
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if stats.PreMajor != 0 || stats.PreMinor != 1 || stats.PostMajor != 1 {
		t.Fatalf("unexpected compaction stats: %+v", stats)
	}
	if vi.minor.count() != 0 {
		t.Fatalf("expected minor tier empty after compact, got %d", vi.minor.count())
	}
	if vi.major.count() != 1 {
		t.Fatalf("expected major tier to have 1 vector, got %d", vi.major.count())
	}
	if _, stale := vi.state.StaleVectorIDs[999]; !stale {
		t.Fatal("expected stale ids to be retained across compaction")
	}
	if vi.state.IndexedFiles["a.txt"].Tier != TierMajor {
		t.Fatalf("expected a.txt retagged to major tier, got %s", vi.state.IndexedFiles["a.txt"].Tier)
	}
}

func TestRebuildMajor_FullyReplaces(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := vi.Add([]Chunk{chunkAt("a.txt", 0)}, [][]float32{unitVec(0)}, "hash1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := vi.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if _, err := vi.Add([]Chunk{chunkAt("b.txt", 0)}, [][]float32{unitVec(1)}, "hash2"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	err = vi.RebuildMajor([]Chunk{chunkAt("c.txt", 0)}, [][]float32{unitVec(2)})
	if err != nil {
		t.Fatalf("RebuildMajor: %v", err)
	}

	if vi.minor.count() != 0 {
		t.Fatalf("expected minor cleared after rebuild, got %d", vi.minor.count())
	}
	if vi.major.count() != 1 {
		t.Fatalf("expected major to contain exactly the rebuild set, got %d", vi.major.count())
	}
	if len(vi.state.StaleVectorIDs) != 0 {
		t.Fatal("expected stale ids cleared after rebuild")
	}
	if _, ok := vi.state.IndexedFiles["a.txt"]; ok {
		t.Fatal("expected indexed_files rebuilt from scratch, a.txt should be gone")
	}
	if _, ok := vi.state.IndexedFiles["c.txt"]; !ok {
		t.Fatal("expected c.txt tracked after rebuild")
	}
}

func TestIsFileIndexed_HashSensitive(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if vi.IsFileIndexed("a.txt", "") {
		t.Fatal("expected untracked file to be unindexed")
	}

	if _, err := vi.Add([]Chunk{chunkAt("a.txt", 0)}, [][]float32{unitVec(0)}, "hash1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !vi.IsFileIndexed("a.txt", "") {
		t.Fatal("expected a.txt indexed when hash not specified")
	}
	if !vi.IsFileIndexed("a.txt", "hash1") {
		t.Fatal("expected a.txt indexed with matching hash")
	}
	if vi.IsFileIndexed("a.txt", "hash2") {
		t.Fatal("expected a.txt not indexed with stale hash")
	}
}

func TestMarkFileStale_ReturnsAndTracksIDs(t *testing.T) {
	vi, err := New(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := vi.Add([]Chunk{chunkAt("a.txt", 0)}, [][]float32{unitVec(0)}, "hash1"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ids, err := vi.MarkFileStale("a.txt")
	if err != nil {
		t.Fatalf("MarkFileStale: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 id returned, got %d", len(ids))
	}
	if _, stale := vi.state.StaleVectorIDs[ids[0]]; !stale {
		t.Fatal("expected returned id marked stale")
	}
	if _, tracked := vi.state.IndexedFiles["a.txt"]; tracked {
		t.Fatal("expected a.txt untracked after MarkFileStale")
	}
	if vi.IsFileIndexed("a.txt", "") {
		t.Fatal("expected a.txt reported unindexed after MarkFileStale")
	}
}

func TestMigrateFromLegacy_RenamesAndReconstructs(t *testing.T) {
	dir := t.TempDir()

	legacy := newTierIndex(TierMajor)
	legacy.add(0, unitVec(0), VectorRecord{Path: "a.txt", ChunkIndex: 0, ChunkText: "x"})
	legacy.add(1, unitVec(1), VectorRecord{Path: "b.txt", ChunkIndex: 0, ChunkText: "y"})
	if err := legacy.save(dir, legacyIndexFile, legacyMetaFile); err != nil {
		t.Fatalf("save legacy: %v", err)
	}

	vi, err := New(dir, testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if vi.major.count() != 2 {
		t.Fatalf("expected major to absorb legacy's 2 vectors, got %d", vi.major.count())
	}
	if vi.state.MajorVectorCount != 2 {
		t.Fatalf("expected major vector count 2, got %d", vi.state.MajorVectorCount)
	}
	if vi.state.IndexedFiles["a.txt"].Tier != TierMajor {
		t.Fatal("expected a.txt tracked as major after migration")
	}
	if vi.state.MajorBuildTimestamp == nil {
		t.Fatal("expected major build timestamp set after migration")
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	vi, err := New(dir, testDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := vi.Add([]Chunk{chunkAt("a.txt", 0)}, [][]float32{unitVec(0)}, "hash1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := vi.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	reopened, err := New(dir, testDim)
	if err != nil {
		t.Fatalf("reopen New: %v", err)
	}
	if reopened.major.count() != 1 {
		t.Fatalf("expected reopened major to have 1 vector, got %d", reopened.major.count())
	}
	if !reopened.IsFileIndexed("a.txt", "hash1") {
		t.Fatal("expected a.txt indexed after reopen")
	}

	results, err := reopened.Search(unitVec(0), 1, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "a.txt" {
		t.Fatalf("expected a.txt result after reopen, got %+v", results)
	}
}
