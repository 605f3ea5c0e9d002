package engine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corpuskit/corpuskit/internal/orchestrator"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func orchestratorOptions(root string) orchestrator.Options {
	return orchestrator.Options{Root: root}
}
