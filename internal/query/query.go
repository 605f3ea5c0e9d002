package query

import (
	"context"
	"fmt"

	"github.com/corpuskit/corpuskit/internal/embed"
	"github.com/corpuskit/corpuskit/internal/store"
	"github.com/corpuskit/corpuskit/internal/vectorindex"
)

// Service answers read-only questions about the corpus by delegating to
// Store, VectorIndex, and Embedder. It holds no state of its own and adds
// no sorting beyond what each component already returns.
type Service struct {
	store       store.Store
	vectorIndex *vectorindex.VectorIndex
	embedder    embed.Embedder
}

// New builds a Service. vectorIndex and embedder may be nil; SemanticSearch
// returns an error if either is unset, every other operation works off
// Store alone.
func New(st store.Store, vectorIndex *vectorindex.VectorIndex, embedder embed.Embedder) *Service {
	return &Service{store: st, vectorIndex: vectorIndex, embedder: embedder}
}

// SearchFiles applies a conjunctive metadata filter, in Store's path order.
func (s *Service) SearchFiles(ctx context.Context, filter store.MetadataFilter, limit int) ([]*store.FileRecord, error) {
	return s.store.MetadataSearch(ctx, filter, limit)
}

// FullTextSearch runs an FTS5 query over chunk content, in Store's
// relevance order.
func (s *Service) FullTextSearch(ctx context.Context, q string, limit int) ([]*store.FTSResult, error) {
	return s.store.FTSSearch(ctx, q, limit)
}

// GetFileInfo joins the FileRecord, its ContentAnalysis (nil if never
// analyzed), and its chunk count. Returns nil if path is untracked.
func (s *Service) GetFileInfo(ctx context.Context, path string) (*FileInfo, error) {
	f, err := s.store.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}

	analysis, err := s.store.GetAnalysis(ctx, path)
	if err != nil {
		return nil, err
	}

	chunks, err := s.store.GetChunks(ctx, path)
	if err != nil {
		return nil, err
	}

	return &FileInfo{File: f, Analysis: analysis, ChunkCount: len(chunks)}, nil
}

// GetFileChunks returns every chunk for path, in chunk-index order. When
// idx is non-nil, only that single chunk is returned (nil if out of
// range).
func (s *Service) GetFileChunks(ctx context.Context, path string, idx *int) ([]*store.ChunkEnvelope, error) {
	if idx != nil {
		c, err := s.store.GetChunk(ctx, path, *idx)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, nil
		}
		return []*store.ChunkEnvelope{c}, nil
	}
	return s.store.GetChunks(ctx, path)
}

// ListDirectories aggregates tracked files by directory, in Store's
// directory-path order.
func (s *Service) ListDirectories(ctx context.Context, parent string, limit int) ([]*store.DirectoryInfo, error) {
	return s.store.ListDirectories(ctx, parent, limit)
}

// SearchByKeywords matches files whose stored analysis keywords include
// any of the given terms, in Store's order.
func (s *Service) SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]*store.KeywordMatch, error) {
	return s.store.KeywordSearch(ctx, keywords, limit)
}

// SemanticSearch embeds queryText and ranks chunks by VectorIndex.Search's
// merged, stale-filtered order. Requires both an Embedder and VectorIndex
// to have been configured.
func (s *Service) SemanticSearch(ctx context.Context, queryText string, limit int) ([]vectorindex.SearchResult, error) {
	if s.embedder == nil || s.vectorIndex == nil {
		return nil, fmt.Errorf("query: semantic_search requires an embedder and vector index")
	}

	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("query: embed query: %w", err)
	}

	return s.vectorIndex.Search(vec, limit, true)
}

// GetStats combines Store's aggregate counts with the VectorIndex's tier
// sizes. VectorIndex fields are zero-valued if no VectorIndex was
// configured.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	storeStats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	out := &Stats{Store: *storeStats}
	if s.vectorIndex != nil {
		vs := s.vectorIndex.Stats()
		out.VectorIndex = VectorIndexStats{
			MajorVectorCount: vs.MajorVectorCount,
			MinorVectorCount: vs.MinorVectorCount,
			StaleVectorCount: vs.StaleVectorCount,
			IndexedFileCount: vs.IndexedFileCount,
			NeedsCompaction:  vs.NeedsCompaction,
		}
	}
	return out, nil
}
