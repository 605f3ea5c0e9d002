package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete corpuskit engine configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Scanner     ScannerConfig     `yaml:"scanner" json:"scanner"`
	Chunk       ChunkConfig       `yaml:"chunk" json:"chunk"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Autograph   AutographConfig   `yaml:"autograph" json:"autograph"`
	Log         LogConfig         `yaml:"log" json:"log"`
}

// PathsConfig configures on-disk locations. StoreDB/VectorIndexDir/GraphPath
// mirror the FILE_METADATA_DB/FAISS_DATA_DIR/KG_PATH environment variables.
type PathsConfig struct {
	Include        []string `yaml:"include" json:"include"`
	Exclude        []string `yaml:"exclude" json:"exclude"`
	StoreDB        string   `yaml:"store_db" json:"store_db"`
	VectorIndexDir string   `yaml:"vector_index_dir" json:"vector_index_dir"`
	GraphPath      string   `yaml:"graph_path" json:"graph_path"`
}

// ScannerConfig is the C2 Scanner discovery policy.
type ScannerConfig struct {
	MaxDepth           int      `yaml:"max_depth" json:"max_depth"`
	MaxFileSizeMB      int      `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	SkipHidden         bool     `yaml:"skip_hidden" json:"skip_hidden"`
	SystemDirNames     []string `yaml:"system_dir_names" json:"system_dir_names"`
	DenylistPatterns   []string `yaml:"denylist_patterns" json:"denylist_patterns"`
	AllowlistPaths     []string `yaml:"allowlist_paths" json:"allowlist_paths"`
	AllowedExtensions  []string `yaml:"allowed_extensions" json:"allowed_extensions"`
	SkipFileExtensions []string `yaml:"skip_file_extensions" json:"skip_file_extensions"`
}

// ChunkConfig is the C4 Chunker target sizing.
type ChunkConfig struct {
	CodeTargetChars  int      `yaml:"code_target_chars" json:"code_target_chars"`
	ProseTargetChars int      `yaml:"prose_target_chars" json:"prose_target_chars"`
	OverlapFraction  float64  `yaml:"overlap_fraction" json:"overlap_fraction"`
	CodeExtensions   []string `yaml:"code_extensions" json:"code_extensions"`
}

// SearchConfig configures hybrid BM25 + semantic fusion.
type SearchConfig struct {
	// BM25Weight and SemanticWeight must sum to 1.0.
	BM25Weight     float64 `yaml:"bm25_weight" json:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	// RRFConstant is the reciprocal-rank-fusion smoothing constant (k).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	MaxResults  int `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig selects the Embedder capability.
type EmbeddingsConfig struct {
	// Provider is empty to auto-detect, or names a registered Embedder.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
}

// PerformanceConfig tunes the Orchestrator's resource budget.
type PerformanceConfig struct {
	MaxFiles      int `yaml:"max_files" json:"max_files"`
	WorkerCount   int `yaml:"worker_count" json:"worker_count"`
	MaxWorkers    int `yaml:"max_workers" json:"max_workers"`
	FDSemaphore   int `yaml:"fd_semaphore" json:"fd_semaphore"`
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// AutographConfig configures C9 suggestion thresholds.
type AutographConfig struct {
	AutoSuggestThreshold float64 `yaml:"auto_suggest_threshold" json:"auto_suggest_threshold"`
	AutoIncludeThreshold float64 `yaml:"auto_include_threshold" json:"auto_include_threshold"`
	MaxSuggestions       int     `yaml:"max_suggestions" json:"max_suggestions"`
}

// LogConfig configures the slog-based logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	Debug bool   `yaml:"debug" json:"debug"`
}

// defaultExcludePatterns are always excluded from Scanner discovery.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

var defaultSystemDirNames = []string{
	".git", ".svn", ".hg", "__pycache__", "node_modules", "venv", ".venv",
	"env", ".env", "build", "dist", "target", "bin", "obj", ".gradle",
	".mvn", "vendor", "site-packages", "virtualenv", "Lib", "conda-env",
	"conda-envs", ".pixi", ".conda", ".virtualenv",
}

var defaultDenylistPatterns = []string{
	"linux-6.*", "kernel-*", "llvm-project*", "chromium*", "gecko-dev*", "webkit*",
}

var defaultSkipFileExtensions = []string{
	".exe", ".dll", ".so", ".dylib", ".bin", ".o", ".a",
	".zip", ".tar", ".gz", ".bz2", ".7z", ".rar",
	".mp3", ".mp4", ".avi", ".mov", ".wav", ".flac",
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".webp",
	".doc", ".xls", ".ppt",
	".lock", ".tmp",
}

var defaultCodeExtensions = []string{
	".py", ".js", ".ts", ".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".go",
	".rb", ".php", ".swift", ".kt", ".scala", ".sh", ".bash", ".zsh",
	".sql", ".r", ".m", ".cs",
}

// NewConfig creates a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include:        []string{},
			Exclude:        defaultExcludePatterns,
			StoreDB:        defaultDataPath("metadata.db"),
			VectorIndexDir: defaultDataPath("vector_index"),
			GraphPath:      defaultDataPath("autograph"),
		},
		Scanner: ScannerConfig{
			MaxDepth:           20,
			MaxFileSizeMB:      100,
			SkipHidden:         true,
			SystemDirNames:     defaultSystemDirNames,
			DenylistPatterns:   defaultDenylistPatterns,
			AllowlistPaths:     nil,
			AllowedExtensions:  nil,
			SkipFileExtensions: defaultSkipFileExtensions,
		},
		Chunk: ChunkConfig{
			CodeTargetChars:  350,
			ProseTargetChars: 800,
			OverlapFraction:  0.15,
			CodeExtensions:   defaultCodeExtensions,
		},
		Search: SearchConfig{
			BM25Weight:     0.65,
			SemanticWeight: 0.35,
			RRFConstant:    60,
			MaxResults:     20,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "", // empty triggers auto-detection (static fallback)
			Model:      "static-minilm",
			Dimensions: 384,
			BatchSize:  32,
		},
		Performance: PerformanceConfig{
			MaxFiles:      100000,
			WorkerCount:   defaultWorkerCount(),
			MaxWorkers:    8,
			FDSemaphore:   50,
			SQLiteCacheMB: 64,
		},
		Autograph: AutographConfig{
			AutoSuggestThreshold: 0.5,
			AutoIncludeThreshold: 0.8,
			MaxSuggestions:       5,
		},
		Log: LogConfig{
			Level: "info",
			Debug: false,
		},
	}
}

// defaultDataPath returns ~/data/<name>, the documented default location
// for the Store/VectorIndex/AutographKG when no environment variable or
// config value overrides it.
func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "data", name)
	}
	return filepath.Join(home, "data", name)
}

// GetUserConfigPath returns the path to the user/global configuration file,
// following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "corpuskit", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "corpuskit", "config.yaml")
	}
	return filepath.Join(home, ".config", "corpuskit", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if present.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// LoadUserConfig loads the user configuration file, or nil if absent.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load loads configuration for dir in order of increasing precedence:
//  1. hardcoded defaults
//  2. user/global config (~/.config/corpuskit/config.yaml)
//  3. project config (.corpuskit.yaml in dir)
//  4. environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads .corpuskit.yaml or .corpuskit.yml from dir, if present.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".corpuskit.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".corpuskit.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}
	if other.Paths.StoreDB != "" {
		c.Paths.StoreDB = other.Paths.StoreDB
	}
	if other.Paths.VectorIndexDir != "" {
		c.Paths.VectorIndexDir = other.Paths.VectorIndexDir
	}
	if other.Paths.GraphPath != "" {
		c.Paths.GraphPath = other.Paths.GraphPath
	}

	if other.Scanner.MaxDepth != 0 {
		c.Scanner.MaxDepth = other.Scanner.MaxDepth
	}
	if other.Scanner.MaxFileSizeMB != 0 {
		c.Scanner.MaxFileSizeMB = other.Scanner.MaxFileSizeMB
	}
	if len(other.Scanner.SystemDirNames) > 0 {
		c.Scanner.SystemDirNames = other.Scanner.SystemDirNames
	}
	if len(other.Scanner.DenylistPatterns) > 0 {
		c.Scanner.DenylistPatterns = other.Scanner.DenylistPatterns
	}
	if len(other.Scanner.AllowlistPaths) > 0 {
		c.Scanner.AllowlistPaths = other.Scanner.AllowlistPaths
	}
	if len(other.Scanner.AllowedExtensions) > 0 {
		c.Scanner.AllowedExtensions = other.Scanner.AllowedExtensions
	}
	if len(other.Scanner.SkipFileExtensions) > 0 {
		c.Scanner.SkipFileExtensions = other.Scanner.SkipFileExtensions
	}

	if other.Chunk.CodeTargetChars != 0 {
		c.Chunk.CodeTargetChars = other.Chunk.CodeTargetChars
	}
	if other.Chunk.ProseTargetChars != 0 {
		c.Chunk.ProseTargetChars = other.Chunk.ProseTargetChars
	}
	if other.Chunk.OverlapFraction != 0 {
		c.Chunk.OverlapFraction = other.Chunk.OverlapFraction
	}
	if len(other.Chunk.CodeExtensions) > 0 {
		c.Chunk.CodeExtensions = other.Chunk.CodeExtensions
	}

	if other.Search.BM25Weight != 0 {
		c.Search.BM25Weight = other.Search.BM25Weight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}

	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.WorkerCount != 0 {
		c.Performance.WorkerCount = other.Performance.WorkerCount
	}
	if other.Performance.MaxWorkers != 0 {
		c.Performance.MaxWorkers = other.Performance.MaxWorkers
	}
	if other.Performance.FDSemaphore != 0 {
		c.Performance.FDSemaphore = other.Performance.FDSemaphore
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}

	if other.Autograph.AutoSuggestThreshold != 0 {
		c.Autograph.AutoSuggestThreshold = other.Autograph.AutoSuggestThreshold
	}
	if other.Autograph.AutoIncludeThreshold != 0 {
		c.Autograph.AutoIncludeThreshold = other.Autograph.AutoIncludeThreshold
	}
	if other.Autograph.MaxSuggestions != 0 {
		c.Autograph.MaxSuggestions = other.Autograph.MaxSuggestions
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Debug {
		c.Log.Debug = other.Log.Debug
	}
}

// applyEnvOverrides applies the spec's documented environment variables
// (FILE_METADATA_DB, FAISS_DATA_DIR, KG_PATH) plus CORPUSKIT_* overrides,
// highest precedence.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FILE_METADATA_DB"); v != "" {
		c.Paths.StoreDB = v
	}
	if v := os.Getenv("FAISS_DATA_DIR"); v != "" {
		c.Paths.VectorIndexDir = v
	}
	if v := os.Getenv("KG_PATH"); v != "" {
		c.Paths.GraphPath = v
	}

	if v := os.Getenv("CORPUSKIT_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("CORPUSKIT_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("CORPUSKIT_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("CORPUSKIT_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CORPUSKIT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CORPUSKIT_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.WorkerCount = n
		}
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindProjectRoot finds the project root directory, walking up from startDir
// looking for a .git directory or a .corpuskit.yaml/.yml file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".corpuskit.yaml")) ||
			fileExists(filepath.Join(currentDir, ".corpuskit.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("search.bm25_weight must be between 0 and 1, got %f", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("search.semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	if sum := c.Search.BM25Weight + c.Search.SemanticWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search.bm25_weight + search.semantic_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}

	if c.Scanner.MaxDepth <= 0 {
		return fmt.Errorf("scanner.max_depth must be positive, got %d", c.Scanner.MaxDepth)
	}
	if c.Scanner.MaxFileSizeMB <= 0 {
		return fmt.Errorf("scanner.max_file_size_mb must be positive, got %d", c.Scanner.MaxFileSizeMB)
	}

	if c.Chunk.CodeTargetChars <= 0 {
		return fmt.Errorf("chunk.code_target_chars must be positive, got %d", c.Chunk.CodeTargetChars)
	}
	if c.Chunk.ProseTargetChars <= 0 {
		return fmt.Errorf("chunk.prose_target_chars must be positive, got %d", c.Chunk.ProseTargetChars)
	}
	if c.Chunk.OverlapFraction < 0 || c.Chunk.OverlapFraction >= 1 {
		return fmt.Errorf("chunk.overlap_fraction must be in [0, 1), got %f", c.Chunk.OverlapFraction)
	}

	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}

	if c.Performance.WorkerCount <= 0 {
		return fmt.Errorf("performance.worker_count must be positive, got %d", c.Performance.WorkerCount)
	}
	if c.Performance.MaxWorkers < c.Performance.WorkerCount {
		return fmt.Errorf("performance.max_workers (%d) must be >= worker_count (%d)", c.Performance.MaxWorkers, c.Performance.WorkerCount)
	}

	if c.Autograph.AutoSuggestThreshold < 0 || c.Autograph.AutoSuggestThreshold > 1 {
		return fmt.Errorf("autograph.auto_suggest_threshold must be in [0, 1], got %f", c.Autograph.AutoSuggestThreshold)
	}
	if c.Autograph.AutoIncludeThreshold < 0 || c.Autograph.AutoIncludeThreshold > 1 {
		return fmt.Errorf("autograph.auto_include_threshold must be in [0, 1], got %f", c.Autograph.AutoIncludeThreshold)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// defaultWorkerCount is the default Orchestrator worker pool size, under
// the hard cap of 8.
func defaultWorkerCount() int {
	return 4
}
