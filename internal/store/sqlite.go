package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO)

	"github.com/corpuskit/corpuskit/internal/corpuserr"
)

// SQLiteStore implements Store on top of SQLite with FTS5, mirroring the
// WAL/busy-timeout shape of the teacher's SQLite-backed BM25 index so that
// concurrent single-writer/many-reader access is safe across processes.
type SQLiteStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	closed    bool
	stopWords map[string]struct{}
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) a SQLite-backed Store at path.
// An empty path opens an in-memory store, useful for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, corpuserr.StoreError(fmt.Sprintf("failed to create directory %s", dir), err)
		}
		if err := validateIntegrity(path); err != nil {
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, corpuserr.Wrap(corpuserr.ErrCodeStoreCorrupt,
					fmt.Errorf("store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, err))
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, corpuserr.StoreError("failed to open database", err)
	}

	// Single writer to prevent lock contention, matching sqlite_bm25.go.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, corpuserr.StoreError("failed to set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path, stopWords: BuildStopWordMap(DefaultKeywordStopWords)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, corpuserr.StoreError("failed to initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS files (
		path              TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		directory         TEXT NOT NULL,
		size              INTEGER NOT NULL,
		type              TEXT,
		mime              TEXT,
		created_at        TEXT,
		modified_at       TEXT,
		accessed_at       TEXT,
		permissions       TEXT,
		hash              TEXT,
		is_text           INTEGER NOT NULL DEFAULT 0,
		encoding          TEXT,
		processing_status TEXT NOT NULL DEFAULT 'success',
		error_message     TEXT,
		indexed_at        TEXT DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_files_type ON files(type);
	CREATE INDEX IF NOT EXISTS idx_files_directory ON files(directory);
	CREATE INDEX IF NOT EXISTS idx_files_processing_status ON files(processing_status);

	CREATE TABLE IF NOT EXISTS content_analysis (
		path                     TEXT PRIMARY KEY,
		hash                     TEXT NOT NULL,
		word_count               INTEGER,
		char_count               INTEGER,
		language                 TEXT,
		summary                  TEXT,
		keywords                 TEXT, -- JSON array of strings
		tfidf_keywords           TEXT, -- JSON array of {term,score}
		topics                   TEXT, -- JSON array of {id,terms}
		processing_time_seconds  REAL,
		analyzed_at              TEXT DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (path) REFERENCES files(path) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		path          TEXT NOT NULL,
		chunk_index   INTEGER NOT NULL,
		total_chunks  INTEGER NOT NULL,
		content       TEXT NOT NULL,
		size_chars    INTEGER NOT NULL,
		strategy      TEXT NOT NULL,
		overlap_chars INTEGER NOT NULL DEFAULT 0,
		file_type     TEXT,
		file_hash     TEXT,
		position      TEXT,
		has_prev      INTEGER NOT NULL DEFAULT 0,
		has_next      INTEGER NOT NULL DEFAULT 0,
		word_count    INTEGER NOT NULL DEFAULT 0,
		line_count    INTEGER NOT NULL DEFAULT 0,
		avg_chunk_size REAL NOT NULL DEFAULT 0,
		file_total_size INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(path, chunk_index),
		FOREIGN KEY (path) REFERENCES files(path) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

	CREATE VIRTUAL TABLE IF NOT EXISTS content_fts USING fts5(
		path UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content='chunks',
		content_rowid='id',
		tokenize='unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TABLE IF NOT EXISTS processing_runs (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id       TEXT NOT NULL,
		directory        TEXT NOT NULL,
		started_at       TEXT,
		ended_at         TEXT,
		duration_seconds REAL,
		counters         TEXT -- JSON map status -> count
	);

	CREATE TABLE IF NOT EXISTS kv_state (
		key   TEXT PRIMARY KEY,
		value TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// withRetry runs fn with the Store's busy/locked retry policy (spec.md §4.1:
// "writes that encounter a busy/locked condition retry with exponential
// backoff before surfacing").
func withRetry(ctx context.Context, fn func() error) error {
	return corpuserr.Retry(ctx, corpuserr.DefaultRetryConfig(), func() error {
		err := fn()
		if err != nil && isBusyErr(err) {
			return corpuserr.Wrap(corpuserr.ErrCodeStoreBusy, err)
		}
		return err
	})
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// UpsertFile replaces the file record by Path.
func (s *SQLiteStore) UpsertFile(ctx context.Context, f *FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return corpuserr.StoreError("store is closed", nil)
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO files (path, name, directory, size, type, mime, created_at,
				modified_at, accessed_at, permissions, hash, is_text, encoding,
				processing_status, error_message, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				name=excluded.name, directory=excluded.directory, size=excluded.size,
				type=excluded.type, mime=excluded.mime, created_at=excluded.created_at,
				modified_at=excluded.modified_at, accessed_at=excluded.accessed_at,
				permissions=excluded.permissions, hash=excluded.hash,
				is_text=excluded.is_text, encoding=excluded.encoding,
				processing_status=excluded.processing_status,
				error_message=excluded.error_message, indexed_at=excluded.indexed_at
		`,
			f.Path, f.Name, f.Directory, f.Size, f.Type, f.MIME,
			formatTimeOrNil(f.CreatedAt), formatTimeOrNil(f.ModifiedAt), formatTimeOrNil(f.AccessedAt),
			f.Permissions, f.Hash, boolToInt(f.IsText), f.Encoding,
			string(f.ProcessingStatus), f.ErrorMessage, formatTimeOrNil(f.IndexedAt),
		)
		return err
	})
}

// GetFileModified returns the stored modified_at for path.
func (s *SQLiteStore) GetFileModified(ctx context.Context, path string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	var modifiedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT modified_at FROM files WHERE path = ?`, path).Scan(&modifiedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, corpuserr.StoreError("get_file_modified failed", err)
	}
	if !modifiedAt.Valid || modifiedAt.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, modifiedAt.String)
	if err != nil {
		return nil, corpuserr.StoreError("failed to parse modified_at", err)
	}
	return &t, nil
}

const fileColumns = `path, name, directory, size, type, mime, created_at, modified_at,
	accessed_at, permissions, hash, is_text, encoding, processing_status,
	error_message, indexed_at`

// GetFile returns the full FileRecord for path, or nil if untracked.
func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	f, err := scanFileRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, corpuserr.StoreError("get_file failed", err)
	}
	return f, nil
}

// GetAnalysis returns the stored ContentAnalysis for path, or nil if the
// file was never analyzed.
func (s *SQLiteStore) GetAnalysis(ctx context.Context, path string) (*ContentAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	var a ContentAnalysis
	var keywordsJSON, tfidfJSON, topicsJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT path, hash, word_count, char_count, language, summary,
			keywords, tfidf_keywords, topics, processing_time_seconds
		FROM content_analysis WHERE path = ?
	`, path).Scan(&a.Path, &a.Hash, &a.WordCount, &a.CharCount, &a.Language, &a.Summary,
		&keywordsJSON, &tfidfJSON, &topicsJSON, &a.ProcessingTimeSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, corpuserr.StoreError("get_analysis failed", err)
	}

	if keywordsJSON.Valid && keywordsJSON.String != "" {
		_ = json.Unmarshal([]byte(keywordsJSON.String), &a.Keywords)
	}
	if tfidfJSON.Valid && tfidfJSON.String != "" {
		_ = json.Unmarshal([]byte(tfidfJSON.String), &a.TFIDFKeywords)
	}
	if topicsJSON.Valid && topicsJSON.String != "" {
		_ = json.Unmarshal([]byte(topicsJSON.String), &a.Topics)
	}
	return &a, nil
}

// ListDirectories aggregates tracked files by directory, optionally scoped
// to a parent path prefix, ordered by directory path.
func (s *SQLiteStore) ListDirectories(ctx context.Context, parentPrefix string, limit int) ([]*DirectoryInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	query := `SELECT directory, COUNT(*), COALESCE(SUM(size), 0) FROM files`
	var args []any
	if parentPrefix != "" {
		query += " WHERE directory LIKE ?"
		args = append(args, parentPrefix+"%")
	}
	query += " GROUP BY directory ORDER BY directory"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corpuserr.StoreError("list_directories failed", err)
	}
	defer rows.Close()

	var results []*DirectoryInfo
	for rows.Next() {
		var d DirectoryInfo
		if err := rows.Scan(&d.Path, &d.FileCount, &d.TotalSize); err != nil {
			return nil, corpuserr.StoreError("failed to scan directory row", err)
		}
		results = append(results, &d)
	}
	return results, rows.Err()
}

// ReplaceChunks atomically replaces all chunks for path and rewrites the
// content_fts row joining the file's chunk texts (spec.md §4.1).
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, path string, chunks []*ChunkEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return corpuserr.StoreError("store is closed", nil)
	}

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return corpuserr.StoreError("failed to begin transaction", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
			return corpuserr.StoreError("failed to delete existing chunks", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM content_fts WHERE path = ?`, path); err != nil {
			return corpuserr.StoreError("failed to delete existing content_fts row", err)
		}

		insertStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (path, chunk_index, total_chunks, content, size_chars,
				strategy, overlap_chars, file_type, file_hash, position, has_prev,
				has_next, word_count, line_count, avg_chunk_size, file_total_size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return corpuserr.StoreError("failed to prepare chunk insert", err)
		}
		defer insertStmt.Close()

		var joined strings.Builder
		for _, c := range chunks {
			if _, err := insertStmt.ExecContext(ctx,
				c.FilePath, c.ChunkIndex, c.TotalChunks, c.Content, c.SizeChars,
				c.Strategy, c.OverlapChars, c.FileType, c.FileHash, string(c.Position),
				boolToInt(c.HasPrev), boolToInt(c.HasNext), c.WordCount, c.LineCount,
				c.AvgChunkSize, c.FileTotalSize, formatTimeOrNil(c.CreatedAt),
			); err != nil {
				return corpuserr.StoreError("failed to insert chunk", err)
			}
			if joined.Len() > 0 {
				joined.WriteByte('\n')
			}
			joined.WriteString(c.Content)
		}

		if joined.Len() > 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO content_fts (path, content) VALUES (?, ?)`, path, joined.String(),
			); err != nil {
				return corpuserr.StoreError("failed to index content_fts row", err)
			}
		}

		return tx.Commit()
	})
}

// PutAnalysis stores the ContentAnalysis for path.
func (s *SQLiteStore) PutAnalysis(ctx context.Context, path string, a *ContentAnalysis, processingTimeSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return corpuserr.StoreError("store is closed", nil)
	}

	keywordsJSON, err := json.Marshal(a.Keywords)
	if err != nil {
		return corpuserr.StoreError("failed to marshal keywords", err)
	}
	tfidfJSON, err := json.Marshal(a.TFIDFKeywords)
	if err != nil {
		return corpuserr.StoreError("failed to marshal tfidf_keywords", err)
	}
	topicsJSON, err := json.Marshal(a.Topics)
	if err != nil {
		return corpuserr.StoreError("failed to marshal topics", err)
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO content_analysis (path, hash, word_count, char_count, language,
				summary, keywords, tfidf_keywords, topics, processing_time_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				hash=excluded.hash, word_count=excluded.word_count,
				char_count=excluded.char_count, language=excluded.language,
				summary=excluded.summary, keywords=excluded.keywords,
				tfidf_keywords=excluded.tfidf_keywords, topics=excluded.topics,
				processing_time_seconds=excluded.processing_time_seconds,
				analyzed_at=CURRENT_TIMESTAMP
		`, path, a.Hash, a.WordCount, a.CharCount, a.Language, a.Summary,
			string(keywordsJSON), string(tfidfJSON), string(topicsJSON), processingTimeSeconds)
		return err
	})
}

func (s *SQLiteStore) scanChunkRow(row interface{ Scan(...any) error }) (*ChunkEnvelope, error) {
	var c ChunkEnvelope
	var createdAt string
	var position string
	var hasPrev, hasNext int
	if err := row.Scan(&c.FilePath, &c.ChunkIndex, &c.TotalChunks, &c.Content, &c.SizeChars,
		&c.Strategy, &c.OverlapChars, &c.FileType, &c.FileHash, &position, &hasPrev, &hasNext,
		&c.WordCount, &c.LineCount, &c.AvgChunkSize, &c.FileTotalSize, &createdAt); err != nil {
		return nil, err
	}
	c.Position = ChunkPosition(position)
	c.HasPrev = hasPrev != 0
	c.HasNext = hasNext != 0
	c.Filename = filepath.Base(c.FilePath)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}

const chunkColumns = `path, chunk_index, total_chunks, content, size_chars, strategy,
	overlap_chars, file_type, file_hash, position, has_prev, has_next, word_count,
	line_count, avg_chunk_size, file_total_size, created_at`

func (s *SQLiteStore) GetChunk(ctx context.Context, path string, idx int) (*ChunkEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE path = ? AND chunk_index = ?`, path, idx)
	c, err := s.scanChunkRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, corpuserr.StoreError("get_chunk failed", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, path string) ([]*ChunkEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE path = ? ORDER BY chunk_index`, path)
	if err != nil {
		return nil, corpuserr.StoreError("get_chunks failed", err)
	}
	defer rows.Close()

	var result []*ChunkEnvelope
	for rows.Next() {
		c, err := s.scanChunkRow(rows)
		if err != nil {
			return nil, corpuserr.StoreError("failed to scan chunk", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetAdjacent(ctx context.Context, path string, idx, before, after int) ([]*ChunkEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	lo, hi := idx-before, idx+after
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE path = ? AND chunk_index BETWEEN ? AND ? ORDER BY chunk_index`,
		path, lo, hi)
	if err != nil {
		return nil, corpuserr.StoreError("get_adjacent failed", err)
	}
	defer rows.Close()

	var result []*ChunkEnvelope
	for rows.Next() {
		c, err := s.scanChunkRow(rows)
		if err != nil {
			return nil, corpuserr.StoreError("failed to scan chunk", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// FTSSearch supports phrase queries and boolean operators via FTS5 MATCH
// syntax over chunks_fts, returning a >>>…<<< delimited ~64-token snippet.
func (s *SQLiteStore) FTSSearch(ctx context.Context, query string, limit int) ([]*FTSResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	if strings.TrimSpace(query) == "" {
		return []*FTSResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.path, c.chunk_index, bm25(chunks_fts) AS score,
			snippet(chunks_fts, 0, '>>>', '<<<', '...', 64)
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, query, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*FTSResult{}, nil
		}
		return nil, corpuserr.StoreError("fts_search failed", err)
	}
	defer rows.Close()

	var results []*FTSResult
	for rows.Next() {
		var path, snippet string
		var chunkIdx int
		var score float64
		if err := rows.Scan(&path, &chunkIdx, &score, &snippet); err != nil {
			return nil, corpuserr.StoreError("failed to scan fts result", err)
		}
		idx := chunkIdx
		results = append(results, &FTSResult{
			Path:       path,
			ChunkIndex: &idx,
			Rank:       -score, // bm25() is negative; higher positive = better
			Snippet:    snippet,
		})
	}
	return results, rows.Err()
}

// MetadataSearch applies a conjunctive filter over FileRecord fields.
func (s *SQLiteStore) MetadataSearch(ctx context.Context, filter MetadataFilter, limit int) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	var conds []string
	var args []any

	if filter.NameContains != "" {
		conds = append(conds, "name LIKE ?")
		args = append(args, "%"+filter.NameContains+"%")
	}
	if filter.TypeContains != "" {
		conds = append(conds, "type LIKE ?")
		args = append(args, "%"+filter.TypeContains+"%")
	}
	if filter.MimeContains != "" {
		conds = append(conds, "mime LIKE ?")
		args = append(args, "%"+filter.MimeContains+"%")
	}
	if filter.DirectoryPrefix != "" {
		conds = append(conds, "directory LIKE ?")
		args = append(args, filter.DirectoryPrefix+"%")
	}
	if filter.MinSize > 0 {
		conds = append(conds, "size >= ?")
		args = append(args, filter.MinSize)
	}
	if filter.MaxSize > 0 {
		conds = append(conds, "size <= ?")
		args = append(args, filter.MaxSize)
	}
	if !filter.CreatedSince.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.CreatedSince.UTC().Format(time.RFC3339))
	}
	if !filter.ModifiedSince.IsZero() {
		conds = append(conds, "modified_at >= ?")
		args = append(args, filter.ModifiedSince.UTC().Format(time.RFC3339))
	}
	if filter.Permissions != "" {
		conds = append(conds, "permissions = ?")
		args = append(args, filter.Permissions)
	}

	query := `SELECT path, name, directory, size, type, mime, created_at, modified_at,
		accessed_at, permissions, hash, is_text, encoding, processing_status,
		error_message, indexed_at FROM files`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY path LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corpuserr.StoreError("metadata_search failed", err)
	}
	defer rows.Close()

	var results []*FileRecord
	for rows.Next() {
		f, err := scanFileRow(rows)
		if err != nil {
			return nil, corpuserr.StoreError("failed to scan file row", err)
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

// KeywordSearch searches the textual keyword projection of analyses.
// Both the query terms and each file's stored keyword projection are run
// through TokenizeCode/FilterStopWords before matching, so "getUserById"
// in the query matches a stored "get_user_by_id" keyword and stop words
// like "err"/"ctx" never count as a match either side.
func (s *SQLiteStore) KeywordSearch(ctx context.Context, keywords []string, limit int) ([]*KeywordMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}
	if len(keywords) == 0 {
		return []*KeywordMatch{}, nil
	}

	wanted := make(map[string]struct{})
	for _, kw := range keywords {
		for _, tok := range FilterStopWords(TokenizeCode(kw), s.stopWords) {
			wanted[tok] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return []*KeywordMatch{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.path, f.name, f.directory, f.size, f.type, f.mime, f.created_at,
			f.modified_at, f.accessed_at, f.permissions, f.hash, f.is_text, f.encoding,
			f.processing_status, f.error_message, f.indexed_at, a.keywords
		FROM files f
		JOIN content_analysis a ON a.path = f.path
		ORDER BY f.path
	`)
	if err != nil {
		return nil, corpuserr.StoreError("keyword_search failed", err)
	}
	defer rows.Close()

	var results []*KeywordMatch
	for rows.Next() {
		f, keywordsJSON, err := scanFileRowWithKeywords(rows)
		if err != nil {
			return nil, corpuserr.StoreError("failed to scan keyword row", err)
		}
		var stored []string
		if keywordsJSON != "" {
			_ = json.Unmarshal([]byte(keywordsJSON), &stored)
		}

		var matched []string
		for _, kw := range stored {
			for _, tok := range FilterStopWords(TokenizeCode(kw), s.stopWords) {
				if _, ok := wanted[tok]; ok {
					matched = append(matched, kw)
					break
				}
			}
		}
		if len(matched) > 0 {
			results = append(results, &KeywordMatch{File: *f, MatchedKeywords: matched})
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results, rows.Err()
}

// RecordRun persists a completed ProcessingRun.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *ProcessingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return corpuserr.StoreError("store is closed", nil)
	}

	countersJSON, err := json.Marshal(run.Counters)
	if err != nil {
		return corpuserr.StoreError("failed to marshal run counters", err)
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO processing_runs (session_id, directory, started_at, ended_at,
				duration_seconds, counters)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.SessionID, run.Directory, formatTimeOrNil(run.StartedAt),
			formatTimeOrNil(run.EndedAt), run.DurationSeconds, string(countersJSON))
		return err
	})
}

// GetStats returns aggregate counts across all indexed files and runs.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, corpuserr.StoreError("store is closed", nil)
	}

	stats := &Stats{ByStatus: make(map[ProcessingStatus]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&stats.TotalFiles); err != nil {
		return nil, corpuserr.StoreError("get_stats failed counting files", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.TotalChunks); err != nil {
		return nil, corpuserr.StoreError("get_stats failed counting chunks", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processing_runs`).Scan(&stats.TotalRuns); err != nil {
		return nil, corpuserr.StoreError("get_stats failed counting runs", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT processing_status, COUNT(*) FROM files GROUP BY processing_status`)
	if err != nil {
		return nil, corpuserr.StoreError("get_stats failed grouping status", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, corpuserr.StoreError("failed to scan status count", err)
		}
		stats.ByStatus[ProcessingStatus(status)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, corpuserr.StoreError("get_stats failed iterating status rows", err)
	}

	var lastEnded sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT ended_at FROM processing_runs ORDER BY id DESC LIMIT 1`).Scan(&lastEnded); err == nil && lastEnded.Valid {
		if t, err := time.Parse(time.RFC3339, lastEnded.String); err == nil {
			stats.LastRunEndedAt = t
		}
	}

	return stats, nil
}

// Close closes the underlying database, checkpointing WAL first.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

func scanFileRow(row interface{ Scan(...any) error }) (*FileRecord, error) {
	var f FileRecord
	var createdAt, modifiedAt, accessedAt, indexedAt sql.NullString
	var isText int
	var status string
	if err := row.Scan(&f.Path, &f.Name, &f.Directory, &f.Size, &f.Type, &f.MIME,
		&createdAt, &modifiedAt, &accessedAt, &f.Permissions, &f.Hash, &isText,
		&f.Encoding, &status, &f.ErrorMessage, &indexedAt); err != nil {
		return nil, err
	}
	f.IsText = isText != 0
	f.ProcessingStatus = ProcessingStatus(status)
	f.CreatedAt = parseTimeOrZero(createdAt)
	f.ModifiedAt = parseTimeOrZero(modifiedAt)
	f.AccessedAt = parseTimeOrZero(accessedAt)
	f.IndexedAt = parseTimeOrZero(indexedAt)
	return &f, nil
}

func scanFileRowWithKeywords(rows *sql.Rows) (*FileRecord, string, error) {
	var f FileRecord
	var createdAt, modifiedAt, accessedAt, indexedAt sql.NullString
	var isText int
	var status string
	var keywordsJSON sql.NullString
	if err := rows.Scan(&f.Path, &f.Name, &f.Directory, &f.Size, &f.Type, &f.MIME,
		&createdAt, &modifiedAt, &accessedAt, &f.Permissions, &f.Hash, &isText,
		&f.Encoding, &status, &f.ErrorMessage, &indexedAt, &keywordsJSON); err != nil {
		return nil, "", err
	}
	f.IsText = isText != 0
	f.ProcessingStatus = ProcessingStatus(status)
	f.CreatedAt = parseTimeOrZero(createdAt)
	f.ModifiedAt = parseTimeOrZero(modifiedAt)
	f.AccessedAt = parseTimeOrZero(accessedAt)
	f.IndexedAt = parseTimeOrZero(indexedAt)
	return &f, keywordsJSON.String, nil
}

func formatTimeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTimeOrZero(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// validateIntegrity checks a SQLite file's integrity before opening,
// mirroring sqlite_bm25.go's corruption-detection pattern.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}
