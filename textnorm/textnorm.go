// Package textnorm canonicalises extracted text and derives stable content
// keys. Both operations run on every candidate of every scan, so they stay
// allocation-light and fully deterministic: identical input always produces
// an identical key, across calls and across process restarts.
package textnorm

import (
	"strconv"
	"strings"
	"unicode"
)

// Normalize canonicalises raw extracted text: zero-width characters are
// stripped, everything is lowercased, runs of whitespace collapse to a
// single space, and the result is trimmed. Normalize is idempotent.
func Normalize(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))

	prevSpace := false
	for _, r := range raw {
		if isZeroWidth(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		sb.WriteRune(unicode.ToLower(r))
		prevSpace = false
	}

	return strings.TrimRight(sb.String(), " ")
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad', '\u2060':
		return true
	}
	return false
}

// Key returns the content key for normalized text: a djb2-xor hash rendered
// as a fixed-width 8-character hex string. Non-cryptographic on purpose —
// the key is a cache/dedup handle, not an integrity check.
func Key(normalized string) string {
	h := uint32(5381)
	for i := 0; i < len(normalized); i++ {
		h = (h << 5) + h ^ uint32(normalized[i])
	}
	const hexWidth = 8
	s := strconv.FormatUint(uint64(h), 16)
	if len(s) < hexWidth {
		s = strings.Repeat("0", hexWidth-len(s)) + s
	}
	return s
}

// NormalizeKey is shorthand for Key(Normalize(raw)).
func NormalizeKey(raw string) string {
	return Key(Normalize(raw))
}
