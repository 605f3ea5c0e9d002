// Package analyze produces per-file content analysis: frequency keywords,
// TF-IDF keywords, topic clusters, per-chunk embeddings, and an extractive
// summary. Each sub-step degrades independently; a failure in one never
// blocks the others from reporting.
package analyze

const (
	// MaxKeywords bounds the frequency-keyword list.
	MaxKeywords = 10
	// MinKeywordLen is the minimum term length considered content-bearing.
	MinKeywordLen = 3

	// MaxTFIDFKeywords bounds the TF-IDF keyword list.
	MaxTFIDFKeywords = 20
	// TFIDFMaxDF excludes terms present in more than this fraction of chunks.
	TFIDFMaxDF = 0.95
	// MaxTFIDFFeatures caps the vocabulary considered for TF-IDF scoring.
	MaxTFIDFFeatures = 1000
	// MinTFIDFDocs is the minimum number of non-empty chunks required to
	// run TF-IDF and topic clustering; below this both return nil.
	MinTFIDFDocs = 2

	// MaxTopics bounds the number of topic clusters.
	MaxTopics = 5
	// MaxTopicTerms bounds the weighted terms reported per topic.
	MaxTopicTerms = 10
	// topicClusterIterations is the fixed number of k-means refinement
	// passes; deterministic seeding keeps results stable across runs.
	topicClusterIterations = 8

	// SummaryMaxChars is the approximate target length of the extractive
	// summary.
	SummaryMaxChars = 200
)
