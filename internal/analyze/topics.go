package analyze

import (
	"math"

	"github.com/corpuskit/corpuskit/internal/store"
)

// ExtractTopics clusters docs (the file's chunks) into up to MaxTopics
// groups by cosine similarity over their TF-IDF vectors, deterministic
// k-means with evenly-spaced seeding (no RNG, so results are stable across
// runs on the same input). Each topic reports its top weighted terms.
// Returns nil under the same conditions as ExtractTFIDFKeywords: fewer
// than MinTFIDFDocs non-empty chunks, or no surviving vocabulary.
func ExtractTopics(docs []string) []store.Topic {
	mat := computeTFIDF(docs)
	if mat == nil {
		return nil
	}

	k := MaxTopics
	if len(mat.scores) < k {
		k = len(mat.scores)
	}
	if k <= 0 {
		return nil
	}

	assignments := kMeansCosine(mat.scores, k, topicClusterIterations)

	clusters := make([][]int, k)
	for doc, cluster := range assignments {
		clusters[cluster] = append(clusters[cluster], doc)
	}

	var topics []store.Topic
	for _, members := range clusters {
		if len(members) == 0 {
			continue
		}
		centroid := meanVector(mat.scores, members, len(mat.vocab))
		order := rankIndices(centroid, len(centroid))

		var terms []store.TopicTerm
		for _, idx := range order {
			if centroid[idx] <= 0 {
				break
			}
			terms = append(terms, store.TopicTerm{Term: mat.vocab[idx], Weight: centroid[idx]})
			if len(terms) >= MaxTopicTerms {
				break
			}
		}
		if len(terms) == 0 {
			continue
		}
		topics = append(topics, store.Topic{ID: len(topics), Terms: terms})
	}
	return topics
}

// kMeansCosine assigns each row to one of k clusters by repeated
// nearest-centroid assignment. Rows are pre-normalized (from computeTFIDF),
// so dot product against a normalized centroid is cosine similarity.
// Seeding picks evenly-spaced rows rather than random ones, keeping the
// result reproducible.
func kMeansCosine(rows [][]float64, k, iterations int) []int {
	n := len(rows)
	dim := 0
	if n > 0 {
		dim = len(rows[0])
	}

	centroids := make([][]float64, k)
	for j := 0; j < k; j++ {
		seed := (j * n) / k
		centroids[j] = append([]float64(nil), rows[seed]...)
	}

	assignments := make([]int, n)
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, row := range rows {
			best, bestScore := 0, dotProduct(row, centroids[0])
			for j := 1; j < k; j++ {
				score := dotProduct(row, centroids[j])
				if score > bestScore {
					best, bestScore = j, score
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		for j := 0; j < k; j++ {
			var members []int
			for i, c := range assignments {
				if c == j {
					members = append(members, i)
				}
			}
			if len(members) == 0 {
				continue // keep previous centroid; an empty cluster stays put
			}
			centroids[j] = normalizeL2(meanVector(rows, members, dim))
		}

		if !changed && iter > 0 {
			break
		}
	}
	return assignments
}

func dotProduct(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func meanVector(rows [][]float64, members []int, dim int) []float64 {
	mean := make([]float64, dim)
	for _, i := range members {
		for j, v := range rows[i] {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(members))
	}
	return mean
}

func normalizeL2(v []float64) []float64 {
	var normSq float64
	for _, x := range v {
		normSq += x * x
	}
	if normSq == 0 {
		return v
	}
	norm := math.Sqrt(normSq)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
