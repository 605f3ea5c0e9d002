package analyze

import (
	"regexp"
	"strings"
)

// sentenceBoundary matches a sentence terminator plus trailing whitespace,
// the same split used by the chunker's prose sentence packing.
var sentenceBoundary = regexp.MustCompile(`([.!?]+\s+)`)

// Summary returns the first sentences of text up to roughly
// SummaryMaxChars characters, an extractive summary in the spirit of the
// original's "take the first sentences that fit" approach.
func Summary(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return truncate(text, SummaryMaxChars)
	}

	if len(sentences[0]) > SummaryMaxChars {
		return truncate(sentences[0], SummaryMaxChars)
	}

	var b strings.Builder
	for _, s := range sentences {
		if b.Len() > 0 && b.Len()+len(s) > SummaryMaxChars {
			break
		}
		b.WriteString(s)
	}
	return strings.TrimSpace(b.String())
}

func splitSentences(text string) []string {
	fragments := sentenceBoundary.Split(text, -1)
	seps := sentenceBoundary.FindAllString(text, -1)

	sentences := make([]string, 0, len(fragments))
	for i, frag := range fragments {
		s := frag
		if i < len(seps) {
			s += seps[i]
		}
		if strings.TrimSpace(s) != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max])
}
