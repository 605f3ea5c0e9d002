package orchestrator

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/corpuskit/corpuskit/internal/analyze"
	"github.com/corpuskit/corpuskit/internal/chunk"
	"github.com/corpuskit/corpuskit/internal/config"
	"github.com/corpuskit/corpuskit/internal/extract"
	"github.com/corpuskit/corpuskit/internal/scanner"
	"github.com/corpuskit/corpuskit/internal/store"
	"github.com/corpuskit/corpuskit/internal/vectorindex"
)

const (
	defaultWorkers = 4
	maxWorkers     = 8
	defaultFDSlots = 50
)

// Dependencies are the components ScanDirectory composes. All fields
// except VectorIndex are required; a nil VectorIndex disables the
// embedding-push step (offline/metadata-only ingestion).
type Dependencies struct {
	Config      *config.Config
	Store       store.Store
	Scanner     *scanner.Scanner
	Extractor   *extract.Registry
	Chunker     *chunk.DiscreteChunker
	Analyzer    *analyze.Analyzer
	VectorIndex *vectorindex.VectorIndex
	Logger      *slog.Logger
}

// Orchestrator runs scan_directory: discovery, the per-file
// extract/chunk/analyze/embed pipeline, and ProcessingRun bookkeeping.
type Orchestrator struct {
	cfg         *config.Config
	store       store.Store
	scanner     *scanner.Scanner
	extractor   *extract.Registry
	chunker     *chunk.DiscreteChunker
	analyzer    *analyze.Analyzer
	vectorIndex *vectorindex.VectorIndex
	logger      *slog.Logger
}

// New builds an Orchestrator from its dependencies.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Config == nil {
		return nil, errors.New("orchestrator: config is required")
	}
	if deps.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if deps.Scanner == nil {
		return nil, errors.New("orchestrator: scanner is required")
	}
	if deps.Extractor == nil {
		return nil, errors.New("orchestrator: extractor is required")
	}
	if deps.Chunker == nil {
		return nil, errors.New("orchestrator: chunker is required")
	}
	if deps.Analyzer == nil {
		return nil, errors.New("orchestrator: analyzer is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg:         deps.Config,
		store:       deps.Store,
		scanner:     deps.Scanner,
		extractor:   deps.Extractor,
		chunker:     deps.Chunker,
		analyzer:    deps.Analyzer,
		vectorIndex: deps.VectorIndex,
		logger:      logger,
	}, nil
}

// ScanDirectory runs one ingestion pass: discover candidates under
// opts.Root, process each through a bounded worker pool, and record a
// ProcessingRun. Cancelling ctx (e.g. on a shutdown signal) stops
// dispatching new work; files already in flight are allowed to finish,
// and the returned Summary carries whatever counters were accumulated
// plus Interrupted=true.
func (o *Orchestrator) ScanDirectory(ctx context.Context, opts Options) (*Summary, error) {
	// Step 1: validate root, ensure Store connectivity.
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("orchestrator: root %q is not a directory", opts.Root)
	}
	// Store bookkeeping and the files already in flight run under storeCtx,
	// which is never cancelled, so an interrupted pass still finishes its
	// current files and records its ProcessingRun.
	storeCtx := context.WithoutCancel(ctx)
	if _, err := o.store.GetStats(storeCtx); err != nil {
		return nil, fmt.Errorf("orchestrator: store unreachable: %w", err)
	}

	run := store.ProcessingRun{
		SessionID: newSessionID(),
		Directory: opts.Root,
		StartedAt: time.Now().UTC(),
		Counters:  make(map[store.ProcessingStatus]int),
	}

	// Step 2: last_scan_time(root), unless forced.
	policy := scanner.PolicyFromConfig(o.cfg.Scanner)
	policy.Force = opts.Force
	if !opts.Force {
		if stats, err := o.store.GetStats(storeCtx); err == nil {
			policy.LastScanTime = stats.LastRunEndedAt
		}
	}

	// Step 3: Scanner yields candidates.
	results, err := o.scanner.Discover(ctx, opts.Root, policy)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: discover: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = o.cfg.Performance.WorkerCount
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if hardCap := o.cfg.Performance.MaxWorkers; hardCap > 0 && workers > hardCap {
		workers = hardCap
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}

	fdSlots := o.cfg.Performance.FDSemaphore
	if fdSlots <= 0 {
		fdSlots = defaultFDSlots
	}
	fdSem := semaphore.NewWeighted(int64(fdSlots))

	var mu sync.Mutex
	bump := func(status store.ProcessingStatus) {
		mu.Lock()
		run.Counters[status]++
		mu.Unlock()
	}

	// Step 4: bounded worker pool processes each candidate.
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case res, ok := <-results:
					if !ok {
						return nil
					}
					if res.Err != nil {
						o.logger.Warn("scan_entry_error", slog.String("path", res.Path), slog.Any("error", res.Err))
						bump(store.StatusUnknownError)
						continue
					}
					status := o.processFile(storeCtx, fdSem, res.File, opts.Force)
					bump(status)
				}
			}
		})
	}

	// A worker goroutine error never aborts the run (failures are
	// captured per-file); g.Wait only reports context cancellation.
	waitErr := g.Wait()

	// Step 5: aggregate, persist the run.
	run.EndedAt = time.Now().UTC()
	run.DurationSeconds = run.EndedAt.Sub(run.StartedAt).Seconds()
	if err := o.store.RecordRun(storeCtx, &run); err != nil {
		o.logger.Warn("record_run_failed", slog.Any("error", err))
	}

	// Step 6: on shutdown signal, report partial counters.
	interrupted := ctx.Err() != nil || (waitErr != nil && errors.Is(waitErr, context.Canceled))

	return &Summary{Run: run, Interrupted: interrupted}, nil
}

// processFile runs the per-file extract/chunk/analyze/embed pipeline and
// returns its outcome status. Individual failures are logged and
// reflected in the status; they never abort the worker pool.
func (o *Orchestrator) processFile(ctx context.Context, fdSem *semaphore.Weighted, f *scanner.FileInfo, force bool) store.ProcessingStatus {
	path := f.Path

	storedMod, err := o.store.GetFileModified(ctx, path)
	if err != nil {
		o.logger.Warn("get_file_modified_failed", slog.String("path", path), slog.Any("error", err))
	}
	// modified_at is stored with whole-second precision.
	if !force && storedMod != nil && storedMod.Unix() == f.ModTime.Unix() {
		return store.StatusSkipped
	}

	if err := fdSem.Acquire(ctx, 1); err != nil {
		return store.StatusUnknownError
	}
	result, extractErr := o.extractor.Extract(ctx, path)
	fdSem.Release(1)

	createdAt, accessedAt := statTimesOf(path)
	rec := &store.FileRecord{
		Path:        path,
		Name:        filepath.Base(path),
		Directory:   filepath.Dir(path),
		Size:        f.Size,
		Type:        filepath.Ext(path),
		MIME:        mime.TypeByExtension(filepath.Ext(path)),
		CreatedAt:   createdAt,
		ModifiedAt:  f.ModTime,
		AccessedAt:  accessedAt,
		Permissions: permissionsOf(path),
		IndexedAt:   time.Now().UTC(),
	}

	if extractErr != nil {
		rec.Hash = store.HashError
		rec.ProcessingStatus = store.StatusUnknownError
		rec.ErrorMessage = extractErr.Error()
		o.upsertAndReport(ctx, rec)
		return rec.ProcessingStatus
	}

	switch result.Reason {
	case extract.ReasonTooLarge:
		rec.Hash = store.HashTooLarge
		rec.ProcessingStatus = store.StatusSizeLimitExceeded
	case extract.ReasonPermissionDenied:
		rec.Hash = store.HashPermissionDenied
		rec.ProcessingStatus = store.StatusPermissionDenied
	case extract.ReasonNotFound:
		rec.Hash = store.HashFileNotFound
		rec.ProcessingStatus = store.StatusFileNotFound
	case extract.ReasonEncodingError, extract.ReasonDecodeFailed:
		rec.Hash = store.HashError
		rec.ProcessingStatus = store.StatusEncodingError
	case extract.ReasonUnsupported:
		rec.Hash = hashText(result.Text)
		rec.ProcessingStatus = store.StatusSuccess
		rec.IsText = false
	case "":
		rec.Hash = hashText(result.Text)
		rec.ProcessingStatus = store.StatusSuccess
		rec.IsText = true
		rec.Encoding = "utf-8"
	default:
		rec.Hash = store.HashError
		rec.ProcessingStatus = store.StatusUnknownError
	}

	o.upsertAndReport(ctx, rec)

	if rec.ProcessingStatus != store.StatusSuccess || !rec.IsText {
		return rec.ProcessingStatus
	}

	o.indexText(ctx, rec, result.Text)
	return rec.ProcessingStatus
}

func (o *Orchestrator) upsertAndReport(ctx context.Context, rec *store.FileRecord) {
	if err := o.store.UpsertFile(ctx, rec); err != nil {
		o.logger.Warn("upsert_file_failed", slog.String("path", rec.Path), slog.Any("error", err))
	}
}

// indexText runs chunk -> analyze -> persist -> embed for one file's
// text body. Each sub-step's failure is logged and left for the next
// run to retry; it never changes the file's already-recorded status.
func (o *Orchestrator) indexText(ctx context.Context, rec *store.FileRecord, text string) {
	chunks := o.chunker.Chunk(rec.Path, text, false)
	if len(chunks) == 0 {
		return
	}

	result, err := o.analyzer.Analyze(ctx, rec.Path, text, chunks)
	if err != nil {
		o.logger.Warn("analyze_failed", slog.String("path", rec.Path), slog.Any("error", err))
		return
	}

	if err := o.store.ReplaceChunks(ctx, rec.Path, chunks); err != nil {
		o.logger.Warn("replace_chunks_failed", slog.String("path", rec.Path), slog.Any("error", err))
		return
	}
	if result.Analysis != nil {
		if err := o.store.PutAnalysis(ctx, rec.Path, result.Analysis, result.Analysis.ProcessingTimeSeconds); err != nil {
			o.logger.Warn("put_analysis_failed", slog.String("path", rec.Path), slog.Any("error", err))
		}
	}

	if o.vectorIndex == nil || len(result.Embeddings) != len(chunks) || len(chunks) == 0 {
		return
	}

	var keywords []string
	if result.Analysis != nil {
		keywords = result.Analysis.Keywords
	}
	vchunks := make([]vectorindex.Chunk, len(chunks))
	for i, c := range chunks {
		vchunks[i] = vectorindex.Chunk{
			Path:       c.FilePath,
			FileName:   c.Filename,
			FileType:   c.FileType,
			ChunkIndex: c.ChunkIndex,
			ChunkText:  c.Content,
			Keywords:   keywords,
		}
	}
	if _, err := o.vectorIndex.Add(vchunks, result.Embeddings, rec.Hash); err != nil {
		o.logger.Warn("vector_index_add_failed", slog.String("path", rec.Path), slog.Any("error", err))
	}
}

func hashText(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func permissionsOf(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%03o", info.Mode().Perm()&0o777)
}

// statTimesOf reads the file's creation and last-access times from its
// platform stat_t, mirroring file_metadata_content.py's stat.st_ctime/
// st_atime. Returns zero times if the file can't be stat'd or the
// platform's Sys() isn't a *syscall.Stat_t.
func statTimesOf(path string) (createdAt, accessedAt time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, time.Time{}
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, time.Time{}
	}
	return time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec), time.Unix(sys.Atim.Sec, sys.Atim.Nsec)
}
