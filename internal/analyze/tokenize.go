package analyze

import (
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// sharedTokenizer is bleve's Unicode tokenizer, stateless and safe for
// concurrent use, so one instance is shared across all Analyze calls.
var sharedTokenizer = unicode.NewUnicodeTokenizer()

// generalStopWords is a general-English stop list, in the same spirit as
// the teacher's DefaultCodeStopWords but sized for prose rather than
// source code.
var generalStopWords = buildStopWordSet([]string{
	"a", "an", "the", "and", "or", "but", "if", "then", "else", "so",
	"of", "at", "by", "for", "with", "about", "against", "between",
	"into", "through", "during", "before", "after", "above", "below",
	"to", "from", "up", "down", "in", "out", "on", "off", "over", "under",
	"is", "are", "was", "were", "be", "been", "being", "am",
	"have", "has", "had", "having", "do", "does", "did", "doing",
	"this", "that", "these", "those", "it", "its", "itself",
	"i", "me", "my", "we", "our", "you", "your", "he", "him", "his",
	"she", "her", "they", "them", "their",
	"not", "no", "nor", "as", "can", "will", "would", "should", "could",
	"just", "than", "too", "very", "such", "own", "same", "also",
	"what", "which", "who", "whom", "when", "where", "why", "how",
	"all", "any", "both", "each", "few", "more", "most", "other", "some",
})

func buildStopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// stopFilter implements bleve's analysis.TokenFilter, following the same
// shape as the teacher's bleveCodeStopFilter in internal/store/bm25.go.
type stopFilter struct {
	stopWords map[string]struct{}
}

func (f stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if _, stop := f.stopWords[strings.ToLower(string(tok.Term))]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

// tokenize lowercases and splits text into terms via bleve's Unicode
// tokenizer, without stop-word filtering.
func tokenize(text string) []string {
	stream := sharedTokenizer.Tokenize([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		term := strings.ToLower(string(tok.Term))
		if term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}

// contentTerms tokenizes and removes stop words and terms shorter than
// minLen, the shared basis for both frequency keywords and TF-IDF/topic
// vocabularies.
func contentTerms(text string, minLen int) []string {
	stream := sharedTokenizer.Tokenize([]byte(text))
	filtered := stopFilter{stopWords: generalStopWords}.Filter(stream)

	terms := make([]string, 0, len(filtered))
	for _, tok := range filtered {
		term := strings.ToLower(string(tok.Term))
		if len(term) >= minLen {
			terms = append(terms, term)
		}
	}
	return terms
}

// ExtractKeywords returns up to MaxKeywords most frequent content-bearing
// terms in text (lowercase, stop-word filtered, at least MinKeywordLen
// characters). Ties break alphabetically for determinism.
func ExtractKeywords(text string) []string {
	terms := contentTerms(text, MinKeywordLen)
	if len(terms) == 0 {
		return nil
	}

	freq := make(map[string]int, len(terms))
	for _, t := range terms {
		freq[t]++
	}

	unique := make([]string, 0, len(freq))
	for t := range freq {
		unique = append(unique, t)
	}
	sort.Slice(unique, func(i, j int) bool {
		if freq[unique[i]] != freq[unique[j]] {
			return freq[unique[i]] > freq[unique[j]]
		}
		return unique[i] < unique[j]
	})

	if len(unique) > MaxKeywords {
		unique = unique[:MaxKeywords]
	}
	return unique
}
