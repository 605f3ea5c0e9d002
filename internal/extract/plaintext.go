package extract

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// candidateEncodings is tried in order after BOM detection and a
// strict-UTF-8 check both fail. ISO8859_1 (latin-1) is a total function
// over every byte value, so it never errors — cp1252 and a final lossy
// UTF-8 pass exist for completeness and texture, matching the original
// decode cascade, but in practice latin-1 absorbs everything ASCII
// doesn't already satisfy.
var candidateEncodings = []encoding.Encoding{
	charmap.ISO8859_1,
	charmap.Windows1252,
}

// PlainTextExtractor is the built-in handler for files with no
// registered format-specific decoder. It detects a byte-order mark,
// then falls back through a fixed encoding candidate list, with a lossy
// UTF-8 decode as the last resort so Extract never reports
// encoding_error for non-empty input.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(_ context.Context, _ string, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{Text: ""}, nil
	}

	if bytes.HasPrefix(data, bomUTF8) {
		return Result{Text: string(data[len(bomUTF8):])}, nil
	}
	if bytes.HasPrefix(data, bomUTF16LE) {
		if text, ok := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), data); ok {
			return Result{Text: text}, nil
		}
	}
	if bytes.HasPrefix(data, bomUTF16BE) {
		if text, ok := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), data); ok {
			return Result{Text: text}, nil
		}
	}

	if utf8.Valid(data) {
		return Result{Text: string(data)}, nil
	}

	for _, enc := range candidateEncodings {
		if text, ok := decodeWith(enc, data); ok {
			return Result{Text: text}, nil
		}
	}

	// Lossy last resort: replace invalid sequences rather than fail.
	return Result{Text: strings.ToValidUTF8(string(data), "�")}, nil
}

func decodeWith(enc encoding.Encoding, data []byte) (string, bool) {
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}
