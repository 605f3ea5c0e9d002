package autograph

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/corpuskit/corpuskit/internal/corpuserr"
)

// embeddingStore is the in-memory mirror of embeddings.npy +
// embedding_index.json: a dense table of unit-normalized vectors, one per
// node_id, in insertion order. No numpy format library exists anywhere in
// the retrieved pack, so embeddings.npy is written as a flat table of
// little-endian float32s (row-major, dimension recorded in the index
// file) rather than a real .npy file — see DESIGN.md.
type embeddingStore struct {
	dimension int
	index     map[string]int // node_id -> row
	vectors   [][]float32
}

type embeddingIndexFile struct {
	Dimension int            `json:"dimension"`
	Index     map[string]int `json:"index"`
}

func newEmbeddingStore() *embeddingStore {
	return &embeddingStore{index: make(map[string]int)}
}

func loadEmbeddingStore(dir string) (*embeddingStore, error) {
	idxPath := filepath.Join(dir, embeddingIndexFileName)
	vecPath := filepath.Join(dir, embeddingsFileName)

	store := newEmbeddingStore()

	idxBytes, err := os.ReadFile(idxPath)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, corpuserr.Wrap(corpuserr.ErrCodeGraphReadFailed, err)
	}

	var wire embeddingIndexFile
	if err := json.Unmarshal(idxBytes, &wire); err != nil {
		return nil, corpuserr.Wrap(corpuserr.ErrCodeGraphCorrupt, err)
	}
	store.dimension = wire.Dimension
	store.index = wire.Index
	if store.index == nil {
		store.index = make(map[string]int)
	}

	vecBytes, err := os.ReadFile(vecPath)
	if os.IsNotExist(err) {
		store.index = make(map[string]int)
		return store, nil
	}
	if err != nil {
		return nil, corpuserr.Wrap(corpuserr.ErrCodeGraphReadFailed, err)
	}

	rowBytes := store.dimension * 4
	if rowBytes == 0 || len(vecBytes)%rowBytes != 0 {
		return nil, corpuserr.Wrap(corpuserr.ErrCodeGraphCorrupt, nil)
	}
	rows := len(vecBytes) / rowBytes
	store.vectors = make([][]float32, rows)
	for r := 0; r < rows; r++ {
		vec := make([]float32, store.dimension)
		for c := 0; c < store.dimension; c++ {
			off := r*rowBytes + c*4
			bits := binary.LittleEndian.Uint32(vecBytes[off : off+4])
			vec[c] = math.Float32frombits(bits)
		}
		store.vectors[r] = vec
	}
	return store, nil
}

func (s *embeddingStore) save(dir string) error {
	idxPath := filepath.Join(dir, embeddingIndexFileName)
	vecPath := filepath.Join(dir, embeddingsFileName)

	wire := embeddingIndexFile{Dimension: s.dimension, Index: s.index}
	idxBytes, err := json.Marshal(wire)
	if err != nil {
		return corpuserr.GraphWriteError("marshal embedding_index.json", err)
	}
	if err := os.WriteFile(idxPath, idxBytes, 0o644); err != nil {
		return corpuserr.GraphWriteError("write embedding_index.json", err)
	}

	buf := make([]byte, 0, len(s.vectors)*s.dimension*4)
	for _, vec := range s.vectors {
		for _, f := range vec {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
			buf = append(buf, b[:]...)
		}
	}
	if err := os.WriteFile(vecPath, buf, 0o644); err != nil {
		return corpuserr.GraphWriteError("write embeddings.npy", err)
	}
	return nil
}

// add appends vec for nodeID, normalizing to unit length, and returns the
// embedding id. The first call fixes the store's dimension.
func (s *embeddingStore) add(nodeID string, vec []float32) string {
	if s.dimension == 0 {
		s.dimension = len(vec)
	}
	normalized := normalizeL2(vec)
	s.index[nodeID] = len(s.vectors)
	s.vectors = append(s.vectors, normalized)
	return "emb:" + nodeID
}

func normalizeL2(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// similar returns the top_k (node_id, cosine_similarity) pairs closest to
// query, in descending similarity order.
func (s *embeddingStore) similar(query []float32, topK int) []nodeSimilarity {
	if len(s.vectors) == 0 || topK <= 0 {
		return nil
	}
	q := normalizeL2(query)

	idToNode := make(map[int]string, len(s.index))
	for id, row := range s.index {
		idToNode[row] = id
	}

	sims := make([]nodeSimilarity, 0, len(s.vectors))
	for row, vec := range s.vectors {
		nodeID, ok := idToNode[row]
		if !ok {
			continue
		}
		var dot float64
		for i := range vec {
			dot += float64(vec[i]) * float64(q[i])
		}
		sims = append(sims, nodeSimilarity{NodeID: nodeID, Similarity: dot})
	}

	sort.Slice(sims, func(i, j int) bool { return sims[i].Similarity > sims[j].Similarity })
	if len(sims) > topK {
		sims = sims[:topK]
	}
	return sims
}

type nodeSimilarity struct {
	NodeID     string
	Similarity float64
}
