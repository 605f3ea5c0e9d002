// Package scanner discovers candidate files under a root directory,
// applying the policy that decides what gets walked into at all: depth
// limits, hidden-path skipping, system-directory pruning, deny/allow
// globs, extension filters, and incremental last-scan-time gating.
package scanner

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/corpuskit/corpuskit/internal/config"
)

// ContentType is the coarse family a file's Language maps into.
type ContentType string

const (
	ContentCode     ContentType = "code"
	ContentMarkdown ContentType = "markdown"
	ContentText     ContentType = "text"
	ContentConfig   ContentType = "config"
)

// FileInfo describes one discovered file. Path is absolute.
type FileInfo struct {
	Path        string
	Size        int64
	ModTime     time.Time
	ContentType ContentType
	Language    string
	IsGenerated bool
}

// ScanResult is one item sent on the Discover channel: either a FileInfo
// or an error encountered while statting/reading a specific entry. A
// non-nil Err never aborts the walk; the entry is skipped and the walk
// continues.
type ScanResult struct {
	File *FileInfo
	Err  error
	Path string // set when Err != nil, for the caller to log/report
}

const defaultMaxDepth = 20

// Policy is the C2 discovery policy. It is built 1:1 from
// config.ScannerConfig via PolicyFromConfig, plus the incrementality and
// filesystem-traversal fields the config layer doesn't own.
type Policy struct {
	MaxDepth           int
	MaxFileSize        int64
	SkipHidden         bool
	SystemDirNames     map[string]struct{}
	DenylistPatterns   []string
	AllowlistPaths     []string
	AllowedExtensions  map[string]struct{}
	SkipFileExtensions map[string]struct{}

	// RespectGitignore applies nested .gitignore files, from root down
	// to each candidate's directory.
	RespectGitignore bool
	// FollowSymlinks descends into symlinked directories. Off by default
	// to avoid cycles.
	FollowSymlinks bool

	// LastScanTime gates incremental discovery: files whose mtime is not
	// after LastScanTime are skipped unless Force is set. A zero value
	// means "no prior run known", so every file is a candidate.
	LastScanTime time.Time
	Force        bool
}

// PolicyFromConfig builds a Policy from the static ScannerConfig,
// leaving the incrementality fields at their zero value for the caller
// (normally the Orchestrator) to fill in from the Store's processing-run
// history.
func PolicyFromConfig(cfg config.ScannerConfig) Policy {
	p := Policy{
		MaxDepth:           cfg.MaxDepth,
		MaxFileSize:        int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		SkipHidden:         cfg.SkipHidden,
		DenylistPatterns:   cfg.DenylistPatterns,
		AllowlistPaths:     cfg.AllowlistPaths,
		RespectGitignore:   true,
		SystemDirNames:     make(map[string]struct{}, len(cfg.SystemDirNames)),
		AllowedExtensions:  nil,
		SkipFileExtensions: make(map[string]struct{}, len(cfg.SkipFileExtensions)),
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = defaultMaxDepth
	}
	for _, d := range cfg.SystemDirNames {
		p.SystemDirNames[d] = struct{}{}
	}
	for _, ext := range cfg.SkipFileExtensions {
		p.SkipFileExtensions[strings.ToLower(ext)] = struct{}{}
	}
	if len(cfg.AllowedExtensions) > 0 {
		p.AllowedExtensions = make(map[string]struct{}, len(cfg.AllowedExtensions))
		for _, ext := range cfg.AllowedExtensions {
			p.AllowedExtensions[strings.ToLower(ext)] = struct{}{}
		}
	}
	return p
}

// languageMap maps a lowercase extension (with leading dot) or exact
// filename to a language name, used for both ContentType classification
// and downstream chunking-strategy selection.
var languageMap = map[string]string{
	".go":         "go",
	".py":         "python",
	".js":         "javascript",
	".jsx":        "javascript",
	".ts":         "typescript",
	".tsx":        "typescript",
	".java":       "java",
	".c":          "c",
	".h":          "c",
	".cc":         "cpp",
	".cpp":        "cpp",
	".cxx":        "cpp",
	".hpp":        "cpp",
	".cs":         "csharp",
	".rb":         "ruby",
	".php":        "php",
	".rs":         "rust",
	".swift":      "swift",
	".kt":         "kotlin",
	".kts":        "kotlin",
	".scala":      "scala",
	".sh":         "shell",
	".bash":       "shell",
	".zsh":        "shell",
	".ps1":        "powershell",
	".sql":        "sql",
	".r":          "r",
	".m":          "objective-c",
	".mm":         "objective-c",
	".lua":        "lua",
	".pl":         "perl",
	".ex":         "elixir",
	".exs":        "elixir",
	".erl":        "erlang",
	".clj":        "clojure",
	".hs":         "haskell",
	".dart":       "dart",
	".vue":        "vue",
	".html":       "html",
	".htm":        "html",
	".css":        "css",
	".scss":       "scss",
	".sass":       "sass",
	".less":       "less",
	".md":         "markdown",
	".markdown":   "markdown",
	".rst":        "restructuredtext",
	".txt":        "text",
	".json":       "json",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".ini":        "ini",
	".cfg":        "ini",
	".xml":        "xml",
	".proto":      "protobuf",
	".graphql":    "graphql",
	".gql":        "graphql",
	".dockerfile": "dockerfile",
	".makefile":   "makefile",
	"dockerfile":  "dockerfile",
	"makefile":    "makefile",
	".tf":         "terraform",
	".tfvars":     "terraform",
}

// contentTypeMap maps a language name to its coarse ContentType.
var contentTypeMap = map[string]ContentType{
	"go":               ContentCode,
	"python":           ContentCode,
	"javascript":       ContentCode,
	"typescript":       ContentCode,
	"java":             ContentCode,
	"c":                ContentCode,
	"cpp":              ContentCode,
	"csharp":           ContentCode,
	"ruby":             ContentCode,
	"php":              ContentCode,
	"rust":             ContentCode,
	"swift":            ContentCode,
	"kotlin":           ContentCode,
	"scala":            ContentCode,
	"shell":            ContentCode,
	"powershell":       ContentCode,
	"sql":              ContentCode,
	"r":                ContentCode,
	"objective-c":      ContentCode,
	"lua":              ContentCode,
	"perl":             ContentCode,
	"elixir":           ContentCode,
	"erlang":           ContentCode,
	"clojure":          ContentCode,
	"haskell":          ContentCode,
	"dart":             ContentCode,
	"vue":              ContentCode,
	"html":             ContentCode,
	"css":              ContentCode,
	"scss":             ContentCode,
	"sass":             ContentCode,
	"less":             ContentCode,
	"protobuf":         ContentCode,
	"graphql":          ContentCode,
	"dockerfile":       ContentCode,
	"makefile":         ContentCode,
	"terraform":        ContentCode,
	"markdown":         ContentMarkdown,
	"restructuredtext": ContentMarkdown,
	"text":             ContentText,
	"json":             ContentConfig,
	"yaml":             ContentConfig,
	"toml":             ContentConfig,
	"ini":              ContentConfig,
	"xml":              ContentConfig,
}

// DetectLanguage returns the language for path by extension or, for
// extensionless well-known files, by exact lowercase filename.
func DetectLanguage(path string) string {
	name := strings.ToLower(filepath.Base(path))
	if lang, ok := languageMap[name]; ok {
		return lang
	}
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageMap[ext]; ok {
		return lang
	}
	return ""
}

// DetectContentType classifies language into a coarse ContentType,
// defaulting to ContentText for anything unrecognized.
func DetectContentType(language string) ContentType {
	if ct, ok := contentTypeMap[language]; ok {
		return ct
	}
	return ContentText
}
