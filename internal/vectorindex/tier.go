package vectorindex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/hnsw"
)

// tierIndex wraps one coder/hnsw.Graph[uint64] plus the metadata mirror
// needed to answer queries and to re-insert its vectors into another tier
// during compaction. The vector_id itself is the graph key, so (unlike the
// teacher's HNSWStore) no separate string<->key id map is needed.
type tierIndex struct {
	graph    *hnsw.Graph[uint64]
	records  map[uint64]VectorRecord
	vectors  map[uint64][]float32 // normalized, kept for compaction/persistence
	tier     Tier
}

func newTierIndex(tier Tier) *tierIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &tierIndex{
		graph:   graph,
		records: make(map[uint64]VectorRecord),
		vectors: make(map[uint64][]float32),
		tier:    tier,
	}
}

// add inserts a single already-normalized vector under id.
func (t *tierIndex) add(id uint64, vec []float32, rec VectorRecord) {
	rec.VectorID = id
	rec.Tier = t.tier
	t.graph.Add(hnsw.MakeNode(id, vec))
	t.records[id] = rec
	t.vectors[id] = vec
}

func (t *tierIndex) count() int {
	return len(t.records)
}

// tierHit is an unfiltered, unranked hit from one tier's search.
type tierHit struct {
	id    uint64
	score float32
}

// search queries the tier for up to k nearest neighbours of a normalized
// query vector.
func (t *tierIndex) search(query []float32, k int) []tierHit {
	if k <= 0 || t.graph.Len() == 0 {
		return nil
	}
	if k > t.graph.Len() {
		k = t.graph.Len()
	}

	nodes := t.graph.Search(query, k)
	hits := make([]tierHit, 0, len(nodes))
	for _, node := range nodes {
		if _, ok := t.records[node.Key]; !ok {
			continue // orphaned graph entry, shouldn't happen absent deletion
		}
		distance := t.graph.Distance(query, node.Value)
		hits = append(hits, tierHit{id: node.Key, score: cosineScore(distance)})
	}
	return hits
}

// cosineScore converts coder/hnsw's cosine distance (0 identical, 2
// opposite) into a 0..1 similarity score.
func cosineScore(distance float32) float32 {
	return 1.0 - distance/2.0
}

// save persists the tier's ANN graph and metadata, atomically (temp file
// then rename), under dir/indexFile and dir/metaFile.
func (t *tierIndex) save(dir, indexFile, metaFile string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create vector index dir: %w", err)
	}

	indexPath := filepath.Join(dir, indexFile)
	tmpIndexPath := indexPath + ".tmp"
	f, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("create index temp file: %w", err)
	}
	if err := t.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("close index temp file: %w", err)
	}
	if err := os.Rename(tmpIndexPath, indexPath); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return t.saveMeta(dir, metaFile)
}

func (t *tierIndex) saveMeta(dir, metaFile string) error {
	vectors := make([]jsonVectorRecord, 0, len(t.records))
	for id, rec := range t.records {
		vectors = append(vectors, jsonVectorRecord{
			ID:         id,
			Path:       rec.Path,
			FileName:   rec.FileName,
			FileType:   rec.FileType,
			ChunkIndex: rec.ChunkIndex,
			ChunkText:  rec.ChunkText,
			Keywords:   rec.Keywords,
			Vector:     t.vectors[id],
		})
	}

	doc := jsonTierMeta{
		BuildInfo: jsonBuildInfo{
			BuildTimestamp: nowRFC3339(),
			TotalVectors:   len(vectors),
			Tier:           t.tier,
		},
		Vectors: vectors,
	}

	metaPath := filepath.Join(dir, metaFile)
	tmpMetaPath := metaPath + ".tmp"
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal tier metadata: %w", err)
	}
	if err := os.WriteFile(tmpMetaPath, data, 0o644); err != nil {
		return fmt.Errorf("write tier metadata: %w", err)
	}
	return os.Rename(tmpMetaPath, metaPath)
}

// load reconstructs the tier from its persisted graph and metadata. It's a
// no-op returning (false, nil) when the index file doesn't exist.
func (t *tierIndex) load(dir, indexFile, metaFile string) (bool, error) {
	indexPath := filepath.Join(dir, indexFile)
	f, err := os.Open(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	if err := t.graph.Import(reader); err != nil {
		return false, fmt.Errorf("import graph: %w", err)
	}

	metaPath := filepath.Join(dir, metaFile)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("read tier metadata: %w", err)
	}

	var doc jsonTierMeta
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("parse tier metadata: %w", err)
	}
	for _, v := range doc.Vectors {
		t.records[v.ID] = VectorRecord{
			VectorID:   v.ID,
			Tier:       t.tier,
			Path:       v.Path,
			ChunkIndex: v.ChunkIndex,
			ChunkText:  v.ChunkText,
			FileName:   v.FileName,
			FileType:   v.FileType,
			Keywords:   v.Keywords,
		}
		t.vectors[v.ID] = v.Vector
	}
	return true, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func normalizeL2Float32(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
