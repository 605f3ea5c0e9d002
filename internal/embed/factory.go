package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings. It is the only embedder
	// this module ships: the concrete neural model/tokenizer is an opaque
	// external capability, so corpuskit provides just the Embedder
	// interface plus this deterministic, dependency-free implementation.
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates an embedder for provider. Only ProviderStatic (and the
// zero value, which defaults to it) are recognized; any other value is an
// error, since there is no concrete model backend bundled with corpuskit.
//
// Query embedding caching is enabled by default (saves 50-200ms per repeated
// query). Set CORPUSKIT_EMBED_CACHE=false to disable it.
func NewEmbedder(ctx context.Context, provider ProviderType) (Embedder, error) {
	switch provider {
	case ProviderStatic, "":
		// fall through
	default:
		return nil, fmt.Errorf("embed: unknown provider %q (only %q is supported)", provider, ProviderStatic)
	}

	var embedder Embedder = NewStaticEmbedder()
	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

func isCacheDisabled() bool {
	switch strings.ToLower(os.Getenv("CORPUSKIT_EMBED_CACHE")) {
	case "false", "0", "off", "disabled":
		return true
	default:
		return false
	}
}

// ParseProvider converts a string to ProviderType. Unrecognized values
// default to ProviderStatic, matching the "degrade, don't fail" stance on
// optional capabilities.
func ParseProvider(s string) ProviderType {
	if strings.ToLower(strings.TrimSpace(s)) == string(ProviderStatic) {
		return ProviderStatic
	}
	return ProviderStatic
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// EmbedderInfo describes an embedder's identity and readiness, for
// get_stats/CLI reporting.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder, unwrapping CachedEmbedder
// to report the underlying model name.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}
	return EmbedderInfo{
		Provider:   ProviderStatic,
		Model:      inner.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}
}
