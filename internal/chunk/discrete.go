package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/corpuskit/corpuskit/internal/config"
	"github.com/corpuskit/corpuskit/internal/store"
)

// paragraphSplit matches a blank-line boundary between paragraphs.
var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// sentenceSplit matches sentence terminators, keeping the terminator and
// trailing whitespace attached to the sentence that precedes the split.
var sentenceSplit = regexp.MustCompile(`([.!?]+\s+)`)

// DiscreteChunker implements the three chunking strategies: code_discrete
// (line packing), prose_discrete (paragraph/sentence packing), and
// prose_overlap (sliding window, opt-in). Sizing comes from
// config.ChunkConfig; instantiate with NewDiscreteChunker(cfg).
type DiscreteChunker struct {
	cfg config.ChunkConfig

	codeExtensions map[string]struct{}
}

// NewDiscreteChunker builds a DiscreteChunker from the given sizing
// config.
func NewDiscreteChunker(cfg config.ChunkConfig) *DiscreteChunker {
	c := &DiscreteChunker{cfg: cfg, codeExtensions: make(map[string]struct{}, len(cfg.CodeExtensions))}
	for _, ext := range cfg.CodeExtensions {
		c.codeExtensions[strings.ToLower(ext)] = struct{}{}
	}
	return c
}

// IsCodeFile reports whether path's extension is in the code set.
func (c *DiscreteChunker) IsCodeFile(path string) bool {
	_, ok := c.codeExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Chunk splits text from path into ChunkEnvelopes. forceProse overrides
// code-extension detection to always use prose_discrete. Every envelope
// returned from this call shares one CreatedAt timestamp, taken once up
// front (mirroring the original chunker's self.timestamp, computed once
// per chunking pass rather than per envelope).
func (c *DiscreteChunker) Chunk(path, text string, forceProse bool) []*store.ChunkEnvelope {
	now := time.Now().UTC()
	if forceProse || !c.IsCodeFile(path) {
		return c.chunkProse(path, text, false, now)
	}
	return c.chunkCode(path, text, now)
}

// ChunkOverlap explicitly requests the prose_overlap strategy,
// regardless of extension. Callers opt into this; it's never selected
// by Chunk's automatic strategy selection.
func (c *DiscreteChunker) ChunkOverlap(path, text string) []*store.ChunkEnvelope {
	return c.chunkProse(path, text, true, time.Now().UTC())
}

func (c *DiscreteChunker) chunkCode(path, text string, now time.Time) []*store.ChunkEnvelope {
	if text == "" {
		return nil
	}
	target := c.cfg.CodeTargetChars
	lines := strings.Split(text, "\n")

	var bodies []string
	var current []string
	currentSize := 0
	for _, line := range lines {
		lineSize := len(line) + 1
		if currentSize+lineSize > target && len(current) > 0 {
			bodies = append(bodies, strings.Join(current, "\n"))
			current = []string{line}
			currentSize = lineSize
			continue
		}
		current = append(current, line)
		currentSize += lineSize
	}
	if len(current) > 0 {
		bodies = append(bodies, strings.Join(current, "\n"))
	}

	return c.envelopes(bodies, path, text, "code_discrete", 0, now)
}

func (c *DiscreteChunker) chunkProse(path, text string, overlap bool, now time.Time) []*store.ChunkEnvelope {
	if text == "" {
		return nil
	}
	if overlap {
		return c.chunkProseOverlap(path, text, now)
	}

	target := c.cfg.ProseTargetChars
	paragraphs := splitParagraphs(text)

	var bodies []string
	var current []string
	currentSize := 0
	flush := func() {
		if len(current) > 0 {
			bodies = append(bodies, strings.Join(current, "\n\n"))
			current = nil
			currentSize = 0
		}
	}

	for _, para := range paragraphs {
		if len(para) > target {
			flush()
			bodies = append(bodies, splitBySentence(para, target)...)
			continue
		}
		if currentSize+len(para) > target && len(current) > 0 {
			flush()
		}
		current = append(current, para)
		currentSize += len(para) + 2
	}
	flush()

	return c.envelopes(bodies, path, text, "prose_discrete", 0, now)
}

func (c *DiscreteChunker) chunkProseOverlap(path, text string, now time.Time) []*store.ChunkEnvelope {
	target := c.cfg.ProseTargetChars
	overlapChars := int(float64(target) * c.cfg.OverlapFraction)

	var bodies []string
	start := 0
	for start < len(text) {
		end := start + target
		if end < len(text) {
			if snapped, ok := snapToBlankLine(text, end, 100); ok {
				end = snapped
			} else if end > len(text) {
				end = len(text)
			}
		} else {
			end = len(text)
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			bodies = append(bodies, chunk)
		}

		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
		if start >= len(text) {
			break
		}
	}

	return c.envelopes(bodies, path, text, "prose_overlap", overlapChars, now)
}

// snapToBlankLine looks for a blank-line boundary within ±window chars
// of pos and returns its offset if found.
func snapToBlankLine(text string, pos, window int) (int, bool) {
	lo := pos - window
	if lo < 0 {
		lo = 0
	}
	hi := pos + window
	if hi > len(text) {
		hi = len(text)
	}
	idx := strings.Index(text[lo:hi], "\n\n")
	if idx == -1 {
		return 0, false
	}
	return lo + idx, true
}

func splitParagraphs(text string) []string {
	parts := paragraphSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitBySentence packs sentence-terminated fragments of para up to
// target chars each, used when a single paragraph exceeds the target.
func splitBySentence(para string, target int) []string {
	fragments := sentenceSplit.Split(para, -1)
	seps := sentenceSplit.FindAllString(para, -1)

	var sentences []string
	for i, frag := range fragments {
		s := frag
		if i < len(seps) {
			s += seps[i]
		}
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	var bodies []string
	var current strings.Builder
	currentSize := 0
	for _, sent := range sentences {
		if currentSize+len(sent) > target && current.Len() > 0 {
			bodies = append(bodies, strings.TrimSpace(current.String()))
			current.Reset()
			currentSize = 0
		}
		current.WriteString(sent)
		currentSize += len(sent)
	}
	if current.Len() > 0 {
		bodies = append(bodies, strings.TrimSpace(current.String()))
	}
	return bodies
}

// envelopes builds the full ChunkEnvelope set (including derived
// adjacency/positional/statistical fields) from a list of chunk bodies.
// now is stamped onto every envelope's CreatedAt.
func (c *DiscreteChunker) envelopes(bodies []string, path, fullText, strategy string, overlapChars int, now time.Time) []*store.ChunkEnvelope {
	total := len(bodies)
	if total == 0 {
		return nil
	}

	hash := sha256.Sum256([]byte(fullText))
	fileHash := hex.EncodeToString(hash[:])
	fileType := strings.TrimPrefix(filepath.Ext(path), ".")
	if fileType == "" {
		fileType = "txt"
	}
	fileSize := int64(len(fullText))
	avgChunkSize := float64(fileSize) / float64(total)

	out := make([]*store.ChunkEnvelope, total)
	for i, body := range bodies {
		position := store.PositionMiddle
		switch {
		case i == 0:
			position = store.PositionStart
		case i == total-1:
			position = store.PositionEnd
		}

		out[i] = &store.ChunkEnvelope{
			FilePath:      path,
			Filename:      filepath.Base(path),
			ChunkIndex:    i,
			TotalChunks:   total,
			Content:       body,
			SizeChars:     len(body),
			Strategy:      strategy,
			OverlapChars:  overlapChars,
			FileType:      fileType,
			FileHash:      fileHash,
			Position:      position,
			HasPrev:       i > 0,
			HasNext:       i < total-1,
			WordCount:     len(strings.Fields(body)),
			LineCount:     strings.Count(body, "\n") + 1,
			AvgChunkSize:  avgChunkSize,
			FileTotalSize: fileSize,
			CreatedAt:     now,
		}
	}
	return out
}
