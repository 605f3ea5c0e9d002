// Package cmd provides the CLI commands for corpuskit.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corpuskit/corpuskit/internal/config"
	"github.com/corpuskit/corpuskit/internal/engine"
	"github.com/corpuskit/corpuskit/internal/logging"
)

// exitCodeError pins the process exit code a RunE error should produce,
// per spec.md §6: 0 on full success, 1 on interruption/low success rate,
// 2 on fatal error.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}

// ExitCode extracts the process exit code from an error returned by
// Execute. A plain (non-exitCodeError) error defaults to 2 (fatal),
// matching spec.md §6's taxonomy for unclassified failures.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return 2
}

// openEngine resolves the project root containing path, loads its
// configuration, sets up logging, and wires an Engine. The returned
// cleanup closes the Engine and its log file; callers must defer it.
func openEngine(cmd *cobra.Command, path string) (*engine.Engine, func(), error) {
	root, err := config.FindProjectRoot(path)
	if err != nil {
		root = path
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	if cfg.Log.Debug {
		logCfg = logging.DebugConfig()
	}
	logCfg.WriteToStderr = false
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}

	eng, err := engine.New(cmd.Context(), cfg, logger)
	if err != nil {
		logCleanup()
		return nil, nil, fmt.Errorf("wire engine: %w", err)
	}

	cleanup := func() {
		_ = eng.Close()
		logCleanup()
	}
	return eng, cleanup, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
