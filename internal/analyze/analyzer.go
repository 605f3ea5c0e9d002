package analyze

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/corpuskit/corpuskit/internal/embed"
	"github.com/corpuskit/corpuskit/internal/scanner"
	"github.com/corpuskit/corpuskit/internal/store"
)

// Result bundles the per-file analysis with its per-chunk embeddings.
// Embeddings are returned separately from ContentAnalysis because they're
// destined for the vector index, not the metadata store.
type Result struct {
	Analysis   *store.ContentAnalysis
	Embeddings [][]float32
}

// Analyzer produces ContentAnalysis and chunk embeddings for a file. Every
// sub-step but embedding generation is pure and cannot fail; embedding
// generation is the one step that depends on an external model and so is
// allowed to fail independently, per the degrade-to-empty failure policy.
type Analyzer struct {
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewAnalyzer builds an Analyzer backed by embedder. A nil logger falls
// back to slog.Default().
func NewAnalyzer(embedder embed.Embedder, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{embedder: embedder, logger: logger}
}

// Analyze computes keywords, TF-IDF keywords, topics, a summary, and
// per-chunk embeddings for a file's full text and its already-produced
// chunk envelopes. It never returns an error for content-derived fields;
// those default to empty on failure. An error is only returned if it
// reflects a caller mistake (nil chunks slice is fine, empty).
func (a *Analyzer) Analyze(ctx context.Context, path, text string, chunks []*store.ChunkEnvelope) (*Result, error) {
	start := time.Now()

	chunkTexts := make([]string, len(chunks))
	for i, c := range chunks {
		chunkTexts[i] = c.Content
	}

	analysis := &store.ContentAnalysis{
		Path:          path,
		Hash:          fileHash(text, chunks),
		WordCount:     len(strings.Fields(text)),
		CharCount:     len(text),
		Language:      scanner.DetectLanguage(path),
		Summary:       Summary(text),
		Keywords:      ExtractKeywords(text),
		TFIDFKeywords: ExtractTFIDFKeywords(chunkTexts),
		Topics:        ExtractTopics(chunkTexts),
	}

	embeddings := a.embedChunks(ctx, path, chunkTexts)

	analysis.ProcessingTimeSeconds = time.Since(start).Seconds()
	return &Result{Analysis: analysis, Embeddings: embeddings}, nil
}

// embedChunks generates one embedding per chunk text. A failure here is
// logged and treated as "no embeddings for this file" rather than failing
// the whole analysis, matching the independent-substep failure policy.
func (a *Analyzer) embedChunks(ctx context.Context, path string, chunkTexts []string) [][]float32 {
	if a.embedder == nil || len(chunkTexts) == 0 {
		return nil
	}
	if !a.embedder.Available(ctx) {
		a.logger.Warn("embedder unavailable, skipping chunk embeddings", "path", path)
		return nil
	}

	vectors, err := a.embedder.EmbedBatch(ctx, chunkTexts)
	if err != nil {
		a.logger.Warn("embedding generation failed, continuing without vectors", "path", path, "error", err)
		return nil
	}
	return vectors
}

// fileHash prefers the hash already computed by the chunker (so it's
// consistent with ChunkEnvelope.FileHash); it falls back to hashing text
// directly when there are no chunks (e.g. an empty file).
func fileHash(text string, chunks []*store.ChunkEnvelope) string {
	if len(chunks) > 0 {
		return chunks[0].FileHash
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
