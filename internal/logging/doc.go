// Package logging provides file-based JSON logging with rotation for corpuskit.
// The CLI always writes its logs to ~/.corpuskit/logs/engine.log, at info
// level, or at debug level when debug logging is enabled in the configuration.
//
// The CLI does not copy its logs to stderr.
package logging
