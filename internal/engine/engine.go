// Package engine wires C1-C9 into one façade: a single Engine value that
// owns the Store, VectorIndex, Embedder, and every component built on top
// of them, plus the logger and cancellation context shared across a
// process lifetime. cmd/corpuskit constructs exactly one Engine per run.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/corpuskit/corpuskit/internal/analyze"
	"github.com/corpuskit/corpuskit/internal/autograph"
	"github.com/corpuskit/corpuskit/internal/chunk"
	"github.com/corpuskit/corpuskit/internal/config"
	"github.com/corpuskit/corpuskit/internal/embed"
	"github.com/corpuskit/corpuskit/internal/extract"
	"github.com/corpuskit/corpuskit/internal/orchestrator"
	"github.com/corpuskit/corpuskit/internal/query"
	"github.com/corpuskit/corpuskit/internal/scanner"
	"github.com/corpuskit/corpuskit/internal/store"
	"github.com/corpuskit/corpuskit/internal/vectorindex"
)

// Engine owns every long-lived component. Cancel cancels the context
// handed to the Embedder's constructor; a ScanDirectory pass runs under
// its caller's context and is not stopped by Cancel. Close releases the
// Store, VectorIndex, and Embedder's underlying resources.
type Engine struct {
	Config *config.Config
	Logger *slog.Logger

	Store       store.Store
	VectorIndex *vectorindex.VectorIndex
	Embedder    embed.Embedder
	Scanner     *scanner.Scanner
	Extractor   *extract.Registry
	Chunker     *chunk.DiscreteChunker
	Analyzer    *analyze.Analyzer
	Autograph   *autograph.Manager

	Orchestrator *orchestrator.Orchestrator
	Query        *query.Service

	cancel context.CancelFunc
}

// New wires an Engine from cfg. Callers own cfg's lifetime and supply a
// pre-configured logger (see logging.Setup); New wires components but
// never touches logging setup itself.
//
// ctx is the parent of the context handed to the Embedder's constructor.
// Cancelling it (or calling the returned Engine's Cancel) does not stop a
// ScanDirectory pass, which runs under its caller's context.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	engineCtx, cancel := context.WithCancel(ctx)
	eng := &Engine{
		Config: cfg,
		Logger: logger,
		cancel: cancel,
	}

	st, err := store.NewSQLiteStore(cfg.Paths.StoreDB)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("engine: open store: %w", err)
	}
	eng.Store = st

	vi, err := vectorindex.New(cfg.Paths.VectorIndexDir, cfg.Embeddings.Dimensions)
	if err != nil {
		cancel()
		_ = st.Close()
		return nil, fmt.Errorf("engine: open vector index: %w", err)
	}
	eng.VectorIndex = vi

	embedder, err := embed.NewEmbedder(engineCtx, embed.ParseProvider(cfg.Embeddings.Provider))
	if err != nil {
		cancel()
		_ = vi.Close()
		_ = st.Close()
		return nil, fmt.Errorf("engine: create embedder: %w", err)
	}
	eng.Embedder = embedder

	sc, err := scanner.New()
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("engine: create scanner: %w", err)
	}
	eng.Scanner = sc

	eng.Extractor = extract.NewRegistry()
	eng.Chunker = chunk.NewDiscreteChunker(cfg.Chunk)
	eng.Analyzer = analyze.NewAnalyzer(embedder, logger)

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Config:      cfg,
		Store:       st,
		Scanner:     sc,
		Extractor:   eng.Extractor,
		Chunker:     eng.Chunker,
		Analyzer:    eng.Analyzer,
		VectorIndex: vi,
		Logger:      logger,
	})
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("engine: create orchestrator: %w", err)
	}
	eng.Orchestrator = orch

	eng.Query = query.New(st, vi, embedder)

	graph, err := autograph.New(cfg.Paths.GraphPath, cfg.Autograph, embedder)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("engine: create autograph manager: %w", err)
	}
	eng.Autograph = graph

	return eng, nil
}

// Cancel cancels the Engine's context, which only the Embedder's
// constructor received; it does not stop a ScanDirectory pass, which runs
// under its caller's context. It does not release resources; call
// Close for that.
func (e *Engine) Cancel() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Close cancels the Engine's context and releases the Store, VectorIndex,
// and Embedder. It collects and returns every Close error encountered,
// rather than stopping at the first one, so a failing component never
// masks a leak in another.
func (e *Engine) Close() error {
	e.Cancel()

	var errs []error
	if e.Embedder != nil {
		if err := e.Embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedder: %w", err))
		}
	}
	if e.VectorIndex != nil {
		if err := e.VectorIndex.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vector index: %w", err))
		}
	}
	if closer, ok := e.Store.(interface{ Close() error }); ok && closer != nil {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msg := "engine: close:"
	for _, err := range errs {
		msg += " " + err.Error() + ";"
	}
	return fmt.Errorf("%s", msg)
}
