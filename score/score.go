// Package score maps normalized text to an integer AI-likelihood score in
// [1,10]. The scorer is a pure function: same normalized text, same score,
// no hidden state and no I/O.
//
// Two branches exist. One-line social replies carry too little statistical
// signal for the full feature model, so below a length threshold the score
// comes from phrase/em-dash density buckets alone. Both branch boundaries
// and all weights are tunable constants, calibrated empirically — the two
// branches are not numerically reconciled with each other and should not be
// assumed to be.
package score

import (
	"math"
	"strings"

	"github.com/hazyhaar/slopshield/features"
)

// Bucket maps a minimum short-branch density to a score.
type Bucket struct {
	Min   float64
	Score int
}

// Weights holds every tunable constant of the scorer.
type Weights struct {
	// MinLen is the minimal floor: shorter normalized text scores 1.
	MinLen int
	// ShortLen is the boundary below which the short-text branch applies.
	ShortLen int

	// Full-branch feature weights. Diversity, Variance, and Entropy are
	// applied to the inverted feature (1 - value): low values on those
	// signals correlate with AI-likeness.
	Diversity      float64
	Repetition     float64
	Variance       float64
	Entropy        float64
	Phrase         float64
	SentenceLength float64
	Punctuation    float64
	List           float64

	// Discrete boost terms added when phrase or em-dash density crosses
	// the medium/high thresholds.
	BoostHighThreshold float64
	BoostMedThreshold  float64
	BoostHigh          float64
	BoostMed           float64

	// ShortBuckets maps max(phraseDensity, emDashDensity) to a score,
	// checked in order. Density below every bucket scores 1.
	ShortBuckets []Bucket
}

// DefaultWeights returns the calibrated reference weights.
func DefaultWeights() Weights {
	return Weights{
		MinLen:   12,
		ShortLen: 120,

		Diversity:      0.13,
		Repetition:     0.10,
		Variance:       0.12,
		Entropy:        0.09,
		Phrase:         0.38,
		SentenceLength: 0.05,
		Punctuation:    0.04,
		List:           0.09,

		BoostHighThreshold: 0.60,
		BoostMedThreshold:  0.35,
		BoostHigh:          0.12,
		BoostMed:           0.06,

		ShortBuckets: []Bucket{
			{Min: 0.65, Score: 8},
			{Min: 0.45, Score: 6},
			{Min: 0.25, Score: 4},
		},
	}
}

// Scorer computes AI-likelihood scores.
type Scorer struct {
	ex *features.Extractor
	w  Weights
}

// New creates a Scorer. A nil extractor gets the default phrase bank.
func New(ex *features.Extractor, w Weights) *Scorer {
	if ex == nil {
		ex = features.New(nil)
	}
	return &Scorer{ex: ex, w: w}
}

// Extractor returns the underlying feature extractor.
func (s *Scorer) Extractor() *features.Extractor { return s.ex }

// Score returns the AI-likelihood score for normalized text.
func (s *Scorer) Score(text string) int {
	sc, _ := s.ScoreVector(text)
	return sc
}

// ScoreVector returns the score together with the feature vector that
// produced it (zero vector on the minimal-floor and short branches that
// never compute one).
func (s *Scorer) ScoreVector(text string) (int, features.Vector) {
	if len(text) < s.w.MinLen {
		return 1, features.Vector{}
	}
	if len(text) < s.w.ShortLen {
		return s.scoreShort(text), features.Vector{}
	}
	v := s.ex.Extract(text)
	return s.scoreFull(v, EmDashDensity(text)), v
}

// scoreShort handles one-line replies: the only reliable signals at this
// length are stock phrases and em-dash abuse.
func (s *Scorer) scoreShort(text string) int {
	d := s.ex.Bank().Density(text)
	if e := EmDashDensity(text); e > d {
		d = e
	}
	for _, b := range s.w.ShortBuckets {
		if d >= b.Min {
			return b.Score
		}
	}
	return 1
}

func (s *Scorer) scoreFull(v features.Vector, emDash float64) int {
	// Sentence-length signal only counts when sentences are long enough
	// for uniformity to mean anything; choppy human replies average well
	// under eight words.
	sentenceSignal := v.SentenceLength
	if v.AvgSentenceLen < 8 {
		sentenceSignal = 0
	}

	sum := s.w.Diversity*(1-v.Diversity) +
		s.w.Repetition*v.Repetition +
		s.w.Variance*(1-v.Variance) +
		s.w.Entropy*(1-v.Entropy) +
		s.w.Phrase*v.PhraseDensity +
		s.w.SentenceLength*sentenceSignal +
		s.w.Punctuation*v.Punctuation +
		s.w.List*v.ListLikeness

	sum += s.boost(v.PhraseDensity)
	sum += s.boost(emDash)

	if sum < 0 {
		sum = 0
	}
	if sum > 1 {
		sum = 1
	}

	sc := int(math.Round(1 + sum*9))
	if sc < 1 {
		sc = 1
	}
	if sc > 10 {
		sc = 10
	}
	return sc
}

func (s *Scorer) boost(density float64) float64 {
	switch {
	case density >= s.w.BoostHighThreshold:
		return s.w.BoostHigh
	case density >= s.w.BoostMedThreshold:
		return s.w.BoostMed
	}
	return 0
}

// EmDashDensity returns the em-dash count divided by 3, clamped to 1.
func EmDashDensity(text string) float64 {
	d := float64(strings.Count(text, "—")) / 3
	if d > 1 {
		d = 1
	}
	return d
}
