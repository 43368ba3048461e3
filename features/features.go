// Package features computes the fixed-size numeric feature vector that
// feeds the composite scorer. Every feature is a pure function of the
// normalized text, bounded to [0,1]; the raw average sentence length is
// carried alongside because the scorer consumes it directly.
//
// The statistical intuition: generated text is "average" — uniform sentence
// lengths, predictable vocabulary, low character-level entropy, and a high
// density of stock phrases. Human text is messier on every axis.
package features

import (
	"math"
	"regexp"
	"strings"

	"github.com/hazyhaar/slopshield/phrasebank"
)

// Vector is the feature set for one normalized text block.
type Vector struct {
	// Diversity is the unique-token ratio. Low is AI-leaning.
	Diversity float64 `json:"diversity"`
	// Repetition is the amplified duplicate-bigram ratio. High is AI-leaning.
	Repetition float64 `json:"repetition"`
	// Variance is the normalized stddev of per-sentence word counts.
	// Low (uniform sentences) is AI-leaning.
	Variance float64 `json:"variance"`
	// Entropy is the normalized Shannon entropy of character bigrams.
	// Low is AI-leaning.
	Entropy float64 `json:"entropy"`
	// PhraseDensity is the phrase-pattern library density. High is AI-leaning.
	PhraseDensity float64 `json:"phrase_density"`
	// SentenceLength is the normalized average sentence length.
	SentenceLength float64 `json:"sentence_length"`
	// Punctuation is the structural-punctuation density per 10 characters.
	Punctuation float64 `json:"punctuation"`
	// ListLikeness reflects numbered/bulleted list markers and ordinal
	// discourse markers.
	ListLikeness float64 `json:"list_likeness"`

	// AvgSentenceLen is the raw mean words per sentence, unbounded.
	AvgSentenceLen float64 `json:"avg_sentence_len"`
}

// Extractor computes feature vectors. It is stateless apart from the
// phrase bank and safe for concurrent use.
type Extractor struct {
	bank *phrasebank.Bank
}

// New creates an Extractor. A nil bank falls back to the embedded default.
func New(bank *phrasebank.Bank) *Extractor {
	if bank == nil {
		bank = phrasebank.Default()
	}
	return &Extractor{bank: bank}
}

// Extract computes the feature vector for normalized text.
func (e *Extractor) Extract(text string) Vector {
	var v Vector

	words := tokenize(text)
	v.Diversity = lexicalDiversity(words)
	v.Repetition = repetition(words)

	counts, avg := sentenceWordCounts(text)
	v.AvgSentenceLen = avg
	v.Variance = clamp01(stddev(counts) / 10)
	v.SentenceLength = clamp01(avg / 30)

	v.Entropy = clamp01(bigramEntropy(text) / 10)
	v.PhraseDensity = e.bank.Density(text)
	v.Punctuation = punctuationDensity(text)
	v.ListLikeness = listLikeness(text)

	return v
}

// Bank exposes the extractor's phrase bank for diagnostics output.
func (e *Extractor) Bank() *phrasebank.Bank { return e.bank }

func lexicalDiversity(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	return float64(len(unique)) / float64(len(words))
}

// repetition measures duplicate word bigrams, amplified so that even modest
// repetition registers: 1 - unique/total, times 3, clamped.
func repetition(words []string) float64 {
	if len(words) < 2 {
		return 0
	}
	total := len(words) - 1
	unique := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		unique[words[i]+" "+words[i+1]] = struct{}{}
	}
	r := 1 - float64(len(unique))/float64(total)
	return clamp01(r * 3)
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)))
}

// bigramEntropy returns the Shannon entropy (bits) of character-bigram
// frequencies.
func bigramEntropy(text string) float64 {
	runes := []rune(text)
	if len(runes) < 2 {
		return 0
	}
	freq := make(map[string]int, len(runes))
	total := 0
	for i := 0; i < len(runes)-1; i++ {
		freq[string(runes[i:i+2])]++
		total++
	}
	h := 0.0
	for _, n := range freq {
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

const structuralPunct = ",;:()\"—–-"

func punctuationDensity(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	count := 0
	for _, r := range text {
		if strings.ContainsRune(structuralPunct, r) {
			count++
		}
	}
	// Marks per 10 characters, clamped.
	return clamp01(float64(count) * 10 / float64(len([]rune(text))))
}

// listPatterns is the small fixed set behind the list-likeness feature.
var listPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|\s)\d{1,2}[.)]\s`),
	regexp.MustCompile(`(^|\s)[-*•]\s`),
	regexp.MustCompile(`\b(firstly|secondly|thirdly|lastly)\b`),
	regexp.MustCompile(`\b(first of all|second of all|finally)\b`),
	regexp.MustCompile(`\bstep \d\b`),
}

func listLikeness(text string) float64 {
	matched := 0
	for _, pat := range listPatterns {
		if pat.MatchString(text) {
			matched++
		}
	}
	return clamp01(float64(matched) / 3)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
