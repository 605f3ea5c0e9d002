// Package orchestrator drives the ingestion pipeline end to end: scan,
// per-file skip/extract/chunk/analyze/embed, and run-level bookkeeping.
// It composes Scanner, ContentExtractor, Chunker, Analyzer, Store, and
// VectorIndex behind one ScanDirectory entry point.
package orchestrator

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/corpuskit/corpuskit/internal/store"
)

// Options configures one ScanDirectory pass.
type Options struct {
	// Root is the directory to scan. Required.
	Root string

	// Workers bounds the ingestion worker pool. Zero uses the
	// PerformanceConfig default.
	Workers int

	// Force re-processes every discovered file regardless of stored
	// mtime.
	Force bool
}

// Summary is the outcome of one ScanDirectory call: the recorded
// ProcessingRun plus whether the pass was interrupted before exhausting
// the scan.
type Summary struct {
	Run         store.ProcessingRun
	Interrupted bool
}

func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b[:])
}
