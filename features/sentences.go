package features

import (
	"strings"
	"unicode"
)

// minFragmentLen filters out splinters produced by abbreviations and
// stray punctuation when splitting sentences.
const minFragmentLen = 6

// tokenize splits text into word tokens delimited by whitespace and
// apostrophes. Digits count as word characters ("100%" tokenises to "100").
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// splitSentences splits on trailing sentence punctuation. Fragments shorter
// than minFragmentLen characters are dropped.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		// Swallow the whole punctuation run ("?!", "...").
		j := i
		for j+1 < len(runes) && isSentenceEnd(runes[j+1]) {
			j++
		}
		frag := strings.TrimSpace(string(runes[start : j+1]))
		if len(frag) >= minFragmentLen {
			out = append(out, frag)
		}
		start = j + 1
		i = j
	}
	if start < len(runes) {
		frag := strings.TrimSpace(string(runes[start:]))
		if len(frag) >= minFragmentLen {
			out = append(out, frag)
		}
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// sentenceWordCounts returns the per-sentence word counts, the sentence
// count, and the mean words per sentence.
func sentenceWordCounts(text string) (counts []float64, avg float64) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, 0
	}
	total := 0.0
	counts = make([]float64, len(sentences))
	for i, s := range sentences {
		counts[i] = float64(len(tokenize(s)))
		total += counts[i]
	}
	return counts, total / float64(len(sentences))
}
