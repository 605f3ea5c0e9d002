package analyze

import (
	"math"
	"sort"
	"strings"

	"github.com/corpuskit/corpuskit/internal/store"
)

// docVector is one document's (chunk's) bag of ngram terms, built once and
// reused for both document-frequency counting and the TF pass.
type docVector struct {
	counts map[string]int
}

// tfidfMatrix is the fitted TF-IDF model over a chunk corpus: an ordered
// vocabulary plus one L2-normalized score row per non-empty document.
type tfidfMatrix struct {
	vocab  []string
	index  map[string]int
	scores [][]float64 // len(docs) x len(vocab), L2-normalized per row
	mean   []float64   // mean score per vocab term across all docs
}

// buildDocTerms tokenizes a chunk into unigrams and bigrams, mirroring
// TfidfVectorizer(ngram_range=(1, 2), stop_words='english'): stop words and
// short tokens are dropped before bigrams are formed, so a bigram never
// straddles a removed word.
func buildDocTerms(text string) map[string]int {
	unigrams := contentTerms(text, 2)
	counts := make(map[string]int, len(unigrams)*2)
	for i, u := range unigrams {
		counts[u]++
		if i > 0 {
			bigram := unigrams[i-1] + " " + u
			counts[bigram]++
		}
	}
	return counts
}

// computeTFIDF fits a TF-IDF model over docs (one per chunk). It returns
// nil when fewer than MinTFIDFDocs are non-empty or no vocabulary survives
// max_df filtering, matching the contract for tfidf_keywords and topics.
func computeTFIDF(docs []string) *tfidfMatrix {
	var vectors []docVector
	for _, d := range docs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		counts := buildDocTerms(d)
		if len(counts) > 0 {
			vectors = append(vectors, docVector{counts: counts})
		}
	}
	if len(vectors) < MinTFIDFDocs {
		return nil
	}
	numDocs := len(vectors)

	docFreq := make(map[string]int)
	totalFreq := make(map[string]int)
	for _, v := range vectors {
		for term, count := range v.counts {
			docFreq[term]++
			totalFreq[term] += count
		}
	}

	candidates := make([]string, 0, len(docFreq))
	for term, df := range docFreq {
		if float64(df)/float64(numDocs) <= TFIDFMaxDF {
			candidates = append(candidates, term)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if totalFreq[candidates[i]] != totalFreq[candidates[j]] {
			return totalFreq[candidates[i]] > totalFreq[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})

	maxFeatures := MaxTFIDFFeatures
	if len(candidates) < maxFeatures {
		maxFeatures = len(candidates)
	}
	vocab := candidates[:maxFeatures]
	sort.Strings(vocab) // stable, deterministic column order

	index := make(map[string]int, len(vocab))
	idf := make([]float64, len(vocab))
	for i, term := range vocab {
		index[term] = i
		idf[i] = math.Log(float64(1+numDocs)/float64(1+docFreq[term])) + 1
	}

	scores := make([][]float64, numDocs)
	mean := make([]float64, len(vocab))
	for d, v := range vectors {
		row := make([]float64, len(vocab))
		var normSq float64
		for term, count := range v.counts {
			i, ok := index[term]
			if !ok {
				continue
			}
			val := float64(count) * idf[i]
			row[i] = val
			normSq += val * val
		}
		if normSq > 0 {
			norm := math.Sqrt(normSq)
			for i := range row {
				row[i] /= norm
			}
		}
		scores[d] = row
		for i, val := range row {
			mean[i] += val
		}
	}
	for i := range mean {
		mean[i] /= float64(numDocs)
	}

	return &tfidfMatrix{vocab: vocab, index: index, scores: scores, mean: mean}
}

// ExtractTFIDFKeywords returns the top-scoring TF-IDF terms across docs
// (the file's chunks treated as its corpus), ranked by mean score.
func ExtractTFIDFKeywords(docs []string) []store.TFIDFKeyword {
	mat := computeTFIDF(docs)
	if mat == nil {
		return nil
	}

	order := rankIndices(mat.mean, len(mat.vocab))
	limit := MaxTFIDFKeywords
	if len(order) < limit {
		limit = len(order)
	}

	out := make([]store.TFIDFKeyword, limit)
	for i := 0; i < limit; i++ {
		idx := order[i]
		out[i] = store.TFIDFKeyword{Term: mat.vocab[idx], Score: mat.mean[idx]}
	}
	return out
}

// rankIndices returns the first n indices into scores sorted by descending
// value, breaking ties by ascending index for determinism.
func rankIndices(scores []float64, n int) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		if scores[order[i]] != scores[order[j]] {
			return scores[order[i]] > scores[order[j]]
		}
		return order[i] < order[j]
	})
	if n < len(order) {
		order = order[:n]
	}
	return order
}
