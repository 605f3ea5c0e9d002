package scanner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corpuskit/corpuskit/internal/gitignore"
)

// gitignoreCacheSize is the maximum number of gitignore matchers to cache.
// This prevents unbounded memory growth in long-running processes.
const gitignoreCacheSize = 1000

// Scanner discovers candidate files under a root directory per a Policy.
type Scanner struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

// New creates a Scanner. Returns an error only if the gitignore LRU cache
// cannot be allocated.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Scanner{gitignoreCache: cache}, nil
}

// Discover walks root and streams one ScanResult per candidate file.
// The walk reads one directory (a single os.ReadDir) at a time and
// checks ctx between entries, so cancellation takes effect promptly
// without blocking mid-directory. The returned channel is closed when
// the walk finishes or ctx is cancelled.
func (s *Scanner) Discover(ctx context.Context, root string, policy Policy) (<-chan ScanResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root %q: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", absRoot)
	}

	results := make(chan ScanResult, 64)
	go func() {
		defer close(results)
		s.walk(ctx, absRoot, absRoot, 0, false, policy, results)
	}()
	return results, nil
}

// walk visits dir (depth levels below root), emitting files and
// recursing into permitted subdirectories. allowed is true once an
// ancestor matched an AllowlistPaths entry, overriding denylist
// matching (but never the hidden/system checks) for the whole subtree.
func (s *Scanner) walk(ctx context.Context, root, dir string, depth int, allowed bool, policy Policy, results chan<- ScanResult) {
	if depth > policy.MaxDepth {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		select {
		case results <- ScanResult{Err: err, Path: dir}:
		case <-ctx.Done():
		}
		return
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		name := entry.Name()
		full := filepath.Join(dir, name)
		rel, relErr := filepath.Rel(root, full)
		if relErr != nil {
			rel = full
		}

		if policy.SkipHidden && strings.HasPrefix(name, ".") && name != "." {
			continue
		}

		entryAllowed := allowed || s.matchesAllowlist(rel, policy.AllowlistPaths)

		if entry.IsDir() {
			if _, isSystem := policy.SystemDirNames[name]; isSystem {
				continue
			}
			if !entryAllowed && matchesDenylist(name, policy.DenylistPatterns) {
				continue
			}
			if entry.Type()&os.ModeSymlink != 0 && !policy.FollowSymlinks {
				continue
			}
			if policy.RespectGitignore && s.isGitignored(rel, root) {
				continue
			}
			s.walk(ctx, root, full, depth+1, entryAllowed, policy, results)
			continue
		}

		if entry.Type()&os.ModeSymlink != 0 && !policy.FollowSymlinks {
			continue
		}

		finfo, err := entry.Info()
		if err != nil {
			select {
			case results <- ScanResult{Err: err, Path: full}:
			case <-ctx.Done():
			}
			continue
		}

		if s.shouldSkipFile(rel, name, finfo, policy) {
			continue
		}
		if policy.RespectGitignore && s.isGitignored(rel, root) {
			continue
		}
		if !policy.Force && !policy.LastScanTime.IsZero() && !finfo.ModTime().After(policy.LastScanTime) {
			continue
		}
		if s.isBinaryFile(full) {
			continue
		}

		language := DetectLanguage(full)
		file := &FileInfo{
			Path:        full,
			Size:        finfo.Size(),
			ModTime:     finfo.ModTime(),
			Language:    language,
			ContentType: DetectContentType(language),
			IsGenerated: s.isGeneratedFile(full),
		}
		select {
		case results <- ScanResult{File: file}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scanner) shouldSkipFile(rel, name string, info os.FileInfo, policy Policy) bool {
	if policy.MaxFileSize > 0 && info.Size() > policy.MaxFileSize {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, skip := policy.SkipFileExtensions[ext]; skip {
		return true
	}
	if policy.AllowedExtensions != nil {
		if _, ok := policy.AllowedExtensions[ext]; !ok {
			return true
		}
	}
	if matchesAnyPattern(name, sensitiveFilePatterns) {
		return true
	}
	if matchesAnyPattern(name, defaultExcludeFiles) {
		return true
	}
	return false
}

func (s *Scanner) matchesAllowlist(rel string, allowlist []string) bool {
	for _, a := range allowlist {
		a = filepath.Clean(a)
		if rel == a || strings.HasPrefix(rel, a+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// matchesDenylist reports whether dirName matches one of the glob
// patterns, anchored at the directory's own basename (not its full
// path): denylist entries like "linux-6.*" or "chromium*" describe a
// directory name shape, not a path location.
func matchesDenylist(dirName string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, dirName); err == nil && ok {
			return true
		}
	}
	return false
}

func matchesAnyPattern(baseName string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchFilePattern(baseName, baseName, pattern) {
			return true
		}
	}
	return false
}

// matchFilePattern checks if a file's basename matches a glob-ish
// pattern supporting *.ext, prefix*, *suffix, *contains*, and exact
// matches.
func matchFilePattern(baseName, relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}
	if matched, err := filepath.Match(pattern, baseName); err == nil && matched {
		return true
	}
	return baseName == pattern
}

// isBinaryFile checks if a file is binary by looking for a null byte in
// its first 512 bytes.
func (s *Scanner) isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

// isGeneratedFile checks a file's first 1KB for common generated-file
// marker strings.
func (s *Scanner) isGeneratedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	content := string(buf[:n])

	markers := []string{
		"// Code generated",
		"// DO NOT EDIT",
		"/* DO NOT EDIT",
		"# Generated by",
		"<!-- AUTO-GENERATED -->",
		"// Generated by",
		"/* Generated by",
	}
	for _, marker := range markers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// isGitignored checks rel (relative to root) against root's .gitignore
// plus every nested .gitignore between root and rel's directory.
func (s *Scanner) isGitignored(rel, root string) bool {
	rootMatcher := s.getGitignoreMatcher(root, "")
	if rootMatcher != nil && rootMatcher.Match(rel, false) {
		return true
	}

	parts := strings.Split(filepath.Dir(rel), string(filepath.Separator))
	currentDir := root
	currentBase := ""
	for _, part := range parts {
		if part == "." || part == "" {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = filepath.Join(currentBase, part)
		}
		matcher := s.getGitignoreMatcher(currentDir, currentBase)
		if matcher != nil && matcher.Match(rel, false) {
			return true
		}
	}
	return false
}

// getGitignoreMatcher gets or creates a cached gitignore matcher for dir.
func (s *Scanner) getGitignoreMatcher(dir, base string) *gitignore.Matcher {
	s.cacheMu.RLock()
	matcher, ok := s.gitignoreCache.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil
	}

	matcher = gitignore.New()
	if err := matcher.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.gitignoreCache.Add(dir, matcher)
	s.cacheMu.Unlock()

	return matcher
}

// InvalidateGitignoreCache clears the gitignore matcher cache. Call
// after any .gitignore file changes on disk.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}

// defaultExcludeFiles are always skipped regardless of policy, mirroring
// build-artifact lockfiles no corpus benefits from indexing.
var defaultExcludeFiles = []string{
	"*.min.js",
	"*.min.css",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
}

// sensitiveFilePatterns are never indexed, regardless of policy.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
