package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Default configuration
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 0.65, cfg.Search.BM25Weight)
	assert.Equal(t, 0.35, cfg.Search.SemanticWeight)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 20, cfg.Search.MaxResults)

	assert.Equal(t, "", cfg.Embeddings.Provider) // empty triggers auto-detection
	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)

	assert.Equal(t, 350, cfg.Chunk.CodeTargetChars)
	assert.Equal(t, 800, cfg.Chunk.ProseTargetChars)
	assert.Equal(t, 0.15, cfg.Chunk.OverlapFraction)
	assert.Contains(t, cfg.Chunk.CodeExtensions, ".go")

	assert.Equal(t, 20, cfg.Scanner.MaxDepth)
	assert.Equal(t, 100, cfg.Scanner.MaxFileSizeMB)
	assert.True(t, cfg.Scanner.SkipHidden)
	assert.Contains(t, cfg.Scanner.SystemDirNames, "node_modules")
	assert.Contains(t, cfg.Scanner.DenylistPatterns, "linux-6.*")

	assert.Equal(t, 100000, cfg.Performance.MaxFiles)
	assert.LessOrEqual(t, cfg.Performance.WorkerCount, 8)
	assert.Equal(t, 8, cfg.Performance.MaxWorkers)
	assert.Equal(t, 50, cfg.Performance.FDSemaphore)

	assert.Equal(t, 0.5, cfg.Autograph.AutoSuggestThreshold)
	assert.Equal(t, 0.8, cfg.Autograph.AutoIncludeThreshold)
	assert.Equal(t, 5, cfg.Autograph.MaxSuggestions)

	assert.Contains(t, cfg.Paths.Exclude, "**/node_modules/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
	assert.Contains(t, cfg.Paths.StoreDB, "metadata.db")
	assert.Contains(t, cfg.Paths.VectorIndexDir, "vector_index")
	assert.Contains(t, cfg.Paths.GraphPath, "autograph")

	assert.Equal(t, "info", cfg.Log.Level)
}

func TestConfig_VersionDefaultsToOne(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1, cfg.Version)
}

func TestConfig_SearchWeightsSumToOne(t *testing.T) {
	cfg := NewConfig()
	sum := cfg.Search.BM25Weight + cfg.Search.SemanticWeight
	assert.InDelta(t, 1.0, sum, 0.01)
}

// =============================================================================
// Configuration file loading
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 0.65, cfg.Search.BM25Weight)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
search:
  bm25_weight: 0.4
  semantic_weight: 0.6
  rrf_constant: 100
  max_results: 50
`
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.Search.BM25Weight)
	assert.Equal(t, 0.6, cfg.Search.SemanticWeight)
	assert.Equal(t, 100, cfg.Search.RRFConstant)
	assert.Equal(t, 50, cfg.Search.MaxResults)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
embeddings:
  provider: static
`
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	yamlContent := `
version: 1
embeddings:
  provider: candidate-a
`
	ymlContent := `
version: 1
embeddings:
  provider: candidate-b
`
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yaml"), []byte(yamlContent), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yml"), []byte(ymlContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "candidate-a", cfg.Embeddings.Provider)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := `
version: 1
search:
  bm25_weight: [invalid yaml syntax
`
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_InvalidFieldType_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := `
version: 1
chunk:
  code_target_chars: "not-a-number"
`
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_InvalidWeightSum_FailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := `
version: 1
search:
  bm25_weight: 0.9
  semantic_weight: 0.9
`
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid configuration")
}

// =============================================================================
// Project root discovery
// =============================================================================

func TestFindProjectRoot_GitDirectory_ReturnsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigFile_ReturnsConfigLocation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yaml"), []byte("version: 1"), 0o644)
	require.NoError(t, err)

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindProjectRoot(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

// =============================================================================
// Environment variable overrides
// =============================================================================

func TestLoad_EnvVarOverridesStoreDB(t *testing.T) {
	tmpDir := t.TempDir()
	customDB := filepath.Join(t.TempDir(), "custom.db")
	t.Setenv("FILE_METADATA_DB", customDB)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, customDB, cfg.Paths.StoreDB)
}

func TestLoad_EnvVarOverridesVectorIndexDir(t *testing.T) {
	tmpDir := t.TempDir()
	customDir := t.TempDir()
	t.Setenv("FAISS_DATA_DIR", customDir)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, customDir, cfg.Paths.VectorIndexDir)
}

func TestLoad_EnvVarOverridesGraphPath(t *testing.T) {
	tmpDir := t.TempDir()
	customPath := filepath.Join(t.TempDir(), "graph")
	t.Setenv("KG_PATH", customPath)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, customPath, cfg.Paths.GraphPath)
}

func TestLoad_EnvVarOverridesProvider(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
embeddings:
  provider: from-yaml
`
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("CORPUSKIT_EMBEDDINGS_PROVIDER", "from-env")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Embeddings.Provider)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CORPUSKIT_LOG_LEVEL", "debug")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvVarOverridesRRFConstant(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
search:
  rrf_constant: 100
`
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("CORPUSKIT_RRF_CONSTANT", "80")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Search.RRFConstant)
}

func TestLoad_EnvVarOverridesSearchWeights(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
search:
  bm25_weight: 0.4
  semantic_weight: 0.6
`
	err := os.WriteFile(filepath.Join(tmpDir, ".corpuskit.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("CORPUSKIT_BM25_WEIGHT", "0.5")
	t.Setenv("CORPUSKIT_SEMANTIC_WEIGHT", "0.5")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Search.BM25Weight)
	assert.Equal(t, 0.5, cfg.Search.SemanticWeight)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CORPUSKIT_EMBEDDINGS_PROVIDER", "")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "", cfg.Embeddings.Provider)
}

// =============================================================================
// User/global configuration
// =============================================================================

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetUserConfigPath()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "corpuskit", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	path := GetUserConfigPath()

	expected := filepath.Join(customConfig, "corpuskit", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	exists := UserConfigExists()

	assert.False(t, exists)
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	corpuskitDir := filepath.Join(configDir, "corpuskit")
	require.NoError(t, os.MkdirAll(corpuskitDir, 0o755))
	configPath := filepath.Join(corpuskitDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1"), 0o644))

	exists := UserConfigExists()

	assert.True(t, exists)
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	corpuskitDir := filepath.Join(configDir, "corpuskit")
	require.NoError(t, os.MkdirAll(corpuskitDir, 0o755))
	userConfig := `
version: 1
autograph:
  max_suggestions: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(corpuskitDir, "config.yaml"), []byte(userConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Autograph.MaxSuggestions)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	corpuskitDir := filepath.Join(configDir, "corpuskit")
	require.NoError(t, os.MkdirAll(corpuskitDir, 0o755))
	userConfig := `
version: 1
embeddings:
  provider: user-provider
  model: user-model
`
	require.NoError(t, os.WriteFile(filepath.Join(corpuskitDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := `
version: 1
embeddings:
  model: project-model
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".corpuskit.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Embeddings.Model)
	assert.Equal(t, "user-provider", cfg.Embeddings.Provider)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("CORPUSKIT_EMBEDDINGS_PROVIDER", "env-provider")

	corpuskitDir := filepath.Join(configDir, "corpuskit")
	require.NoError(t, os.MkdirAll(corpuskitDir, 0o755))
	userConfig := `
version: 1
embeddings:
  provider: user-provider
`
	require.NoError(t, os.WriteFile(filepath.Join(corpuskitDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := `
version: 1
embeddings:
  provider: project-provider
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".corpuskit.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "env-provider", cfg.Embeddings.Provider)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	corpuskitDir := filepath.Join(configDir, "corpuskit")
	require.NoError(t, os.MkdirAll(corpuskitDir, 0o755))
	invalidConfig := `
version: 1
embeddings:
  model: [invalid yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(corpuskitDir, "config.yaml"), []byte(invalidConfig), 0o644))

	cfg, err := Load(projectDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "user config")
}
