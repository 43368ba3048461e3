// Package phrasebank holds the curated library of AI-stylistic phrase
// patterns used by the feature extractor. The library is data-driven: rules
// live in an embedded YAML table rather than inline logic, so patterns can
// be tuned and tested without touching the scorer.
//
// Rules are matched against normalized (lowercased) text, so patterns are
// written in lowercase. High-signal rules carry weight 2 and count double.
package phrasebank

import (
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// Rule is a single phrase pattern with its weight and category.
type Rule struct {
	Pattern  string  `yaml:"pattern"`
	Weight   float64 `yaml:"weight"`
	Category string  `yaml:"category"`

	re *regexp.Regexp
}

// Match reports one rule that fired on a text, with its capped hit count.
type Match struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
	Hits     int    `json:"hits"`
}

// Bank is a compiled phrase library.
type Bank struct {
	rules []Rule

	// maxPerRule caps how many hits a single rule can contribute, so one
	// repeated phrase cannot saturate the density on its own.
	maxPerRule int

	// ceiling is the weighted-hit total that maps to density 1.0.
	ceiling float64
}

type bankFile struct {
	MaxPerRule int     `yaml:"max_per_rule"`
	Ceiling    float64 `yaml:"ceiling"`
	Rules      []Rule  `yaml:"rules"`
}

// Load parses a YAML rule table and compiles every pattern. A rule that
// fails to compile aborts the load — the default bank must be internally
// consistent, and caller-supplied banks should fail loudly at startup.
func Load(data []byte) (*Bank, error) {
	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("phrasebank: parse: %w", err)
	}
	if f.MaxPerRule <= 0 {
		f.MaxPerRule = 3
	}
	if f.Ceiling <= 0 {
		f.Ceiling = 4.5
	}

	for i := range f.Rules {
		if f.Rules[i].Weight <= 0 {
			f.Rules[i].Weight = 1
		}
		re, err := regexp.Compile(f.Rules[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("phrasebank: rule %d (%q): %w", i, f.Rules[i].Pattern, err)
		}
		f.Rules[i].re = re
	}

	return &Bank{rules: f.Rules, maxPerRule: f.MaxPerRule, ceiling: f.Ceiling}, nil
}

var (
	defaultOnce sync.Once
	defaultBank *Bank
)

// Default returns the embedded rule table, compiled once.
func Default() *Bank {
	defaultOnce.Do(func() {
		b, err := Load(defaultPatterns)
		if err != nil {
			// The embedded table is validated by tests; a failure here is
			// a build defect, not a runtime condition.
			panic(err)
		}
		defaultBank = b
	})
	return defaultBank
}

// Len returns the number of rules in the bank.
func (b *Bank) Len() int { return len(b.rules) }

// Density returns the normalized phrase-pattern density of text in [0,1]:
// weighted hit count (capped per rule) divided by the tuned ceiling.
func (b *Bank) Density(text string) float64 {
	total := 0.0
	for i := range b.rules {
		hits := len(b.rules[i].re.FindAllStringIndex(text, b.maxPerRule))
		total += float64(hits) * b.rules[i].Weight
	}
	d := total / b.ceiling
	if d > 1 {
		d = 1
	}
	return d
}

// Matches returns every rule that fired on text, for diagnostics and
// report output. Hit counts are capped per rule like in Density.
func (b *Bank) Matches(text string) []Match {
	var out []Match
	for i := range b.rules {
		hits := len(b.rules[i].re.FindAllStringIndex(text, b.maxPerRule))
		if hits == 0 {
			continue
		}
		out = append(out, Match{
			Pattern:  b.rules[i].Pattern,
			Category: b.rules[i].Category,
			Hits:     hits,
		})
	}
	return out
}
