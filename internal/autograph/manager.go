package autograph

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/corpuskit/corpuskit/internal/config"
	"github.com/corpuskit/corpuskit/internal/embed"
)

// Manager owns one knowledge graph rooted at a directory. All operations
// are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	dir       string
	nodesPath string
	edgesPath string

	cfg      config.AutographConfig
	embedder embed.Embedder // optional; nil disables semantic matching

	embeddings *embeddingStore
}

// New opens (or initializes) a knowledge graph rooted at dir. embedder may
// be nil, in which case Query falls back to substring matching on
// context_summary, matching the original's EMBEDDINGS_AVAILABLE=false path,
// and Suggest returns no suggestions.
func New(dir string, cfg config.AutographConfig, embedder embed.Embedder) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("autograph: create graph dir: %w", err)
	}

	es, err := loadEmbeddingStore(dir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		dir:        dir,
		nodesPath:  filepath.Join(dir, nodesFileName),
		edgesPath:  filepath.Join(dir, edgesFileName),
		cfg:        cfg,
		embedder:   embedder,
		embeddings: es,
	}, nil
}

func contextNodeID(summary string) string {
	sum := md5.Sum([]byte(summary))
	return "context:" + hex.EncodeToString(sum[:])[:8]
}

func fileNodeID(source string) string {
	return "file:" + filepath.Base(source)
}

// getOrCreateNode returns the existing node by id, or creates and appends
// one. An existing node's last_seen is refreshed only in the returned
// value, not rewritten to disk — nodes.csv is strictly append-only.
func (m *Manager) getOrCreateNode(nodeType NodeType, nodeID, label string) (KnowledgeNode, error) {
	nodes, err := readNodes(m.nodesPath)
	if err != nil {
		return KnowledgeNode{}, err
	}
	for _, n := range nodes {
		if n.NodeID == nodeID {
			n.LastSeen = time.Now().UTC()
			return n, nil
		}
	}

	now := time.Now().UTC()
	node := KnowledgeNode{
		NodeID:   nodeID,
		NodeType: nodeType,
		Label:    label,
		Created:  now,
		LastSeen: now,
		Metadata: "{}",
	}

	if nodeType == NodeContext && m.embedder != nil {
		if vec, err := m.embedder.Embed(context.Background(), label); err == nil {
			node.EmbeddingID = m.embeddings.add(nodeID, vec)
			if err := m.embeddings.save(m.dir); err != nil {
				return KnowledgeNode{}, err
			}
		}
	}

	if err := appendNode(m.nodesPath, node); err != nil {
		return KnowledgeNode{}, err
	}
	return node, nil
}

// Log records one grounding decision as accepted/rejected/ignored edges
// from the context node to each offered source's file node.
func (m *Manager) Log(ctx context.Context, contextSummary, command string, offered, accepted, rejected []string) (*LogResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timestamp := time.Now().UTC()
	ctxNodeID := contextNodeID(contextSummary)
	if _, err := m.getOrCreateNode(NodeContext, ctxNodeID, contextSummary); err != nil {
		return nil, err
	}

	acceptedSet := toSet(accepted)
	rejectedSet := toSet(rejected)

	var ignored []string
	for _, s := range offered {
		if _, ok := acceptedSet[s]; ok {
			continue
		}
		if _, ok := rejectedSet[s]; ok {
			continue
		}
		ignored = append(ignored, s)
	}

	result := &LogResult{ContextNodeID: ctxNodeID}

	logOne := func(source string, edgeType EdgeType) error {
		srcNodeID := fileNodeID(source)
		if _, err := m.getOrCreateNode(NodeFile, srcNodeID, source); err != nil {
			return err
		}
		edge := KnowledgeEdge{
			Timestamp:      timestamp,
			SourceNode:     ctxNodeID,
			EdgeType:       edgeType,
			TargetNode:     srcNodeID,
			Weight:         edgeWeight(edgeType),
			ContextSummary: contextSummary,
			Command:        command,
		}
		return appendEdge(m.edgesPath, edge)
	}

	for _, s := range accepted {
		if err := logOne(s, EdgeAccepted); err != nil {
			return nil, err
		}
		result.Accepted++
	}
	for _, s := range rejected {
		if err := logOne(s, EdgeRejected); err != nil {
			return nil, err
		}
		result.Rejected++
	}
	for _, s := range ignored {
		if err := logOne(s, EdgeIgnored); err != nil {
			return nil, err
		}
		result.Ignored++
	}

	result.EdgesCreated = result.Accepted + result.Rejected + result.Ignored
	return result, nil
}

// Query finds edges related to context: via cosine similarity over
// embedded context nodes when an embedder is configured, else by
// substring match on context_summary. Reading failures degrade to an
// empty result.
func (m *Manager) Query(ctx context.Context, queryContext string, limit int) ([]EdgeMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	edges, err := readEdges(m.edgesPath)
	if err != nil {
		return nil, nil
	}

	similar := m.findSimilarContexts(ctx, queryContext, limit)
	if len(similar) == 0 {
		lowered := strings.ToLower(queryContext)
		var matches []EdgeMatch
		for _, e := range edges {
			if strings.Contains(strings.ToLower(e.ContextSummary), lowered) {
				matches = append(matches, EdgeMatch{Edge: e})
				if len(matches) >= limit {
					break
				}
			}
		}
		return matches, nil
	}

	var results []EdgeMatch
	for _, sim := range similar {
		for _, e := range edges {
			if e.SourceNode == sim.NodeID {
				results = append(results, EdgeMatch{Edge: e, Similarity: sim.Similarity})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Edge.Weight > results[j].Edge.Weight
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// findSimilarContexts embeds queryContext (when an embedder is
// configured) and returns the closest context nodes, most similar first.
func (m *Manager) findSimilarContexts(ctx context.Context, queryContext string, topK int) []nodeSimilarity {
	if m.embedder == nil || m.embeddings == nil || len(m.embeddings.vectors) == 0 {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, queryContext)
	if err != nil {
		return nil
	}
	return m.embeddings.similar(vec, topK)
}

// Suggest aggregates edges from the top similar contexts and scores each
// target source by confidence = Σsim·accept / (Σsim·accept + Σsim·reject),
// returning sources whose confidence meets threshold. threshold<0 uses
// the configured AutoSuggestThreshold.
func (m *Manager) Suggest(ctx context.Context, queryContext string, threshold float64) ([]Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if threshold < 0 {
		threshold = m.cfg.AutoSuggestThreshold
	}
	maxSuggestions := m.cfg.MaxSuggestions
	if maxSuggestions <= 0 {
		maxSuggestions = 5
	}

	similar := m.findSimilarContexts(ctx, queryContext, 20)
	if len(similar) == 0 {
		return nil, nil
	}

	edges, err := readEdges(m.edgesPath)
	if err != nil {
		return nil, nil
	}

	type accum struct {
		accepted, rejected, totalWeight float64
	}
	scores := make(map[string]*accum)

	for _, sim := range similar {
		if sim.Similarity < threshold {
			continue
		}
		for _, e := range edges {
			if e.SourceNode != sim.NodeID {
				continue
			}
			a, ok := scores[e.TargetNode]
			if !ok {
				a = &accum{}
				scores[e.TargetNode] = a
			}
			switch e.EdgeType {
			case EdgeAccepted:
				a.accepted += sim.Similarity
				a.totalWeight += e.Weight * sim.Similarity
			case EdgeRejected:
				a.rejected += sim.Similarity
				a.totalWeight += e.Weight * sim.Similarity
			}
		}
	}

	var suggestions []Suggestion
	for source, a := range scores {
		total := a.accepted + a.rejected
		if total <= 0 {
			continue
		}
		confidence := a.accepted / total
		if confidence < threshold {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			Source:      source,
			Confidence:  confidence,
			TotalWeight: a.totalWeight,
			AcceptCount: a.accepted,
			RejectCount: a.rejected,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].TotalWeight > suggestions[j].TotalWeight
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions, nil
}

// Stats reports node/edge counts and the graph's bootstrap phase.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nodes, err := readNodes(m.nodesPath)
	if err != nil {
		return nil, nil
	}
	edges, err := readEdges(m.edgesPath)
	if err != nil {
		return nil, nil
	}

	nodeTypes := make(map[NodeType]int)
	for _, n := range nodes {
		nodeTypes[n.NodeType]++
	}
	edgeTypes := make(map[EdgeType]int)
	for _, e := range edges {
		edgeTypes[e.EdgeType]++
	}

	return &Stats{
		TotalNodes:        len(nodes),
		TotalEdges:        len(edges),
		NodeTypes:         nodeTypes,
		EdgeTypes:         edgeTypes,
		BootstrapPhase:    bootstrapPhase(len(edges)),
		EmbeddingsEnabled: m.embedder != nil,
		EmbeddingsCount:   len(m.embeddings.index),
	}, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
