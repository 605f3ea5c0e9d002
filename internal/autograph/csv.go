package autograph

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/corpuskit/corpuskit/internal/corpuserr"
)

func readNodes(path string) ([]KnowledgeNode, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, corpuserr.Wrap(corpuserr.ErrCodeGraphReadFailed, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, corpuserr.Wrap(corpuserr.ErrCodeGraphReadFailed, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	nodes := make([]KnowledgeNode, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 7 {
			continue
		}
		nodes = append(nodes, KnowledgeNode{
			NodeID:      row[0],
			NodeType:    NodeType(row[1]),
			Label:       row[2],
			EmbeddingID: row[3],
			Created:     parseRFC3339(row[4]),
			LastSeen:    parseRFC3339(row[5]),
			Metadata:    row[6],
		})
	}
	return nodes, nil
}

// appendNode appends one node row, writing the header first if the file
// is new. Nodes are never rewritten in place — an existing node's
// last_seen update lives only in memory for the caller's current
// response, matching the append-only CSV discipline.
func appendNode(path string, n KnowledgeNode) error {
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return corpuserr.GraphWriteError("open nodes.csv", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(nodeCSVHeader); err != nil {
			return corpuserr.GraphWriteError("write nodes.csv header", err)
		}
	}
	row := []string{
		n.NodeID, string(n.NodeType), n.Label, n.EmbeddingID,
		formatRFC3339(n.Created), formatRFC3339(n.LastSeen), n.Metadata,
	}
	if err := w.Write(row); err != nil {
		return corpuserr.GraphWriteError("write node row", err)
	}
	w.Flush()
	return w.Error()
}

func readEdges(path string) ([]KnowledgeEdge, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, corpuserr.Wrap(corpuserr.ErrCodeGraphReadFailed, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, corpuserr.Wrap(corpuserr.ErrCodeGraphReadFailed, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	edges := make([]KnowledgeEdge, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 7 {
			continue
		}
		weight, _ := strconv.ParseFloat(row[4], 64)
		edges = append(edges, KnowledgeEdge{
			Timestamp:      parseRFC3339(row[0]),
			SourceNode:     row[1],
			EdgeType:       EdgeType(row[2]),
			TargetNode:     row[3],
			Weight:         weight,
			ContextSummary: row[5],
			Command:        row[6],
		})
	}
	return edges, nil
}

func appendEdge(path string, e KnowledgeEdge) error {
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return corpuserr.GraphWriteError("open edges.csv", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(edgeCSVHeader); err != nil {
			return corpuserr.GraphWriteError("write edges.csv header", err)
		}
	}
	row := []string{
		formatRFC3339(e.Timestamp), e.SourceNode, string(e.EdgeType), e.TargetNode,
		strconv.FormatFloat(e.Weight, 'f', -1, 64), e.ContextSummary, e.Command,
	}
	if err := w.Write(row); err != nil {
		return corpuserr.GraphWriteError("write edge row", err)
	}
	w.Flush()
	return w.Error()
}

func parseRFC3339(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatRFC3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
