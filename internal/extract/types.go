// Package extract maps a file on disk to a UTF-8 text body, or a reason
// it cannot be read as one. It never panics and never returns partial
// text: a file either fully decodes or is reported unsupported/failed.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/corpuskit/corpuskit/internal/corpuserr"
)

// MaxBytes is the input size cap every Extractor must honour. Files
// larger than this are reported as ReasonTooLarge without being read.
const MaxBytes = 10 * 1024 * 1024

// Reason is the taxonomy of non-error extraction outcomes. The zero
// value means success.
type Reason string

const (
	ReasonTooLarge         Reason = "too_large"
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonNotFound         Reason = "not_found"
	ReasonEncodingError    Reason = "encoding_error"
	ReasonUnsupported      Reason = "unsupported"
	ReasonDecodeFailed     Reason = "decode_failed"
)

// Result is the outcome of one Extract call. Exactly one of Text or
// Reason is meaningful: a non-empty Reason means Text is empty.
type Result struct {
	Text   string
	Reason Reason
}

// Ok reports whether extraction produced text.
func (r Result) Ok() bool { return r.Reason == "" }

// Extractor decodes the content at path into text, or reports why it
// could not.
type Extractor interface {
	Extract(ctx context.Context, path string, data []byte) (Result, error)
}

// Registry dispatches to an Extractor by lowercased file extension,
// falling back to a plain-text decode attempt for every unregistered
// extension; it does not inspect content for binary data.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry builds a Registry with the built-in plain-text handler as
// the default for any extension without a registered decoder, and
// explicit "unsupported" stubs for binary document formats that have no
// vendored parser (see unsupportedExtractor below).
func NewRegistry() *Registry {
	r := &Registry{
		byExt:    make(map[string]Extractor),
		fallback: PlainTextExtractor{},
	}
	r.Register(".pdf", unsupportedExtractor{})
	r.Register(".docx", unsupportedExtractor{})
	return r
}

// Register installs extractor as the handler for ext (e.g. ".pdf"),
// overriding any previous registration or the built-in default.
func (r *Registry) Register(ext string, extractor Extractor) {
	r.byExt[strings.ToLower(ext)] = extractor
}

// Extract reads path (capped at MaxBytes) and dispatches by extension.
func (r *Registry) Extract(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Reason: ReasonNotFound}, nil
		}
		if os.IsPermission(err) {
			return Result{Reason: ReasonPermissionDenied}, nil
		}
		return Result{}, corpuserr.ExtractError("stat "+path, err)
	}
	if info.Size() > MaxBytes {
		return Result{Reason: ReasonTooLarge}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Reason: ReasonNotFound}, nil
		}
		if os.IsPermission(err) {
			return Result{Reason: ReasonPermissionDenied}, nil
		}
		return Result{}, corpuserr.ExtractError("read "+path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	handler, ok := r.byExt[ext]
	if !ok {
		handler = r.fallback
	}
	return handler.Extract(ctx, path, data)
}

// unsupportedExtractor is the hook point for binary document formats
// (PDF, DOCX, ...). No parser is vendored and this module registers none;
// Registry.Register can install a real decoder in its place.
type unsupportedExtractor struct{}

func (unsupportedExtractor) Extract(_ context.Context, _ string, _ []byte) (Result, error) {
	return Result{Reason: ReasonUnsupported}, nil
}
