package search

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExcerptConfig bounds the excerpt window in characters (runes).
type ExcerptConfig struct {
	MaxChars    int
	BeforeChars int
	AfterChars  int
}

// MakeExcerpt renders a bounded excerpt of the chunk span, centered on the
// first case-insensitive occurrence of the query when present. Character
// arithmetic is rune-based so multi-byte text never splits mid-codepoint.
func MakeExcerpt(fileBytes []byte, startByte, endByte int, query string, cfg ExcerptConfig) string {
	if startByte < 0 || endByte > len(fileBytes) || startByte > endByte {
		return ""
	}
	if cfg.MaxChars <= 0 {
		return ""
	}
	chunk := fileBytes[startByte:endByte]
	var text string
	if utf8.Valid(chunk) {
		text = string(chunk)
	} else {
		text = strings.ToValidUTF8(string(chunk), "�")
	}
	runes := []rune(text)

	// The case-insensitive search runs rune-by-rune: folding whole strings
	// can change byte lengths (U+0130 lowers to a two-codepoint sequence)
	// and shift a byte index off its rune boundary.
	qRunes := []rune(strings.TrimSpace(query))
	for i, r := range qRunes {
		qRunes[i] = unicode.ToLower(r)
	}
	matchIdx := -1
	qLen := len(qRunes)
	if qLen > 0 {
		lowered := make([]rune, len(runes))
		for i, r := range runes {
			lowered[i] = unicode.ToLower(r)
		}
		for i := 0; i+qLen <= len(lowered); i++ {
			found := true
			for j, qr := range qRunes {
				if lowered[i+j] != qr {
					found = false
					break
				}
			}
			if found {
				matchIdx = i
				break
			}
		}
	}

	windowStart := 0
	if matchIdx >= 0 {
		windowStart = matchIdx - max(0, cfg.BeforeChars)
		if windowStart < 0 {
			windowStart = 0
		}
	}
	maxChars := cfg.MaxChars
	if maxChars < 1 {
		maxChars = 1
	}
	windowEnd := windowStart + maxChars
	if windowEnd > len(runes) {
		windowEnd = len(runes)
	}
	if matchIdx >= 0 {
		desiredEnd := matchIdx + qLen + max(0, cfg.AfterChars)
		if desiredEnd > len(runes) {
			desiredEnd = len(runes)
		}
		if desiredEnd > windowEnd {
			windowEnd = desiredEnd
		}
		if windowEnd > windowStart+maxChars {
			windowEnd = windowStart + maxChars
		}
	}

	excerpt := string(runes[windowStart:windowEnd])
	if windowStart > 0 {
		excerpt = "…" + excerpt
	}
	if windowEnd < len(runes) {
		excerpt = excerpt + "…"
	}
	return excerpt
}
