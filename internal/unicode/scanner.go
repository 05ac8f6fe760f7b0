// Package unicode finds invisible characters that can hide instructions in
// text an agent will read: zero-width characters, bidirectional controls
// and Unicode tag characters.
package unicode

import (
	"fmt"
	"unicode/utf8"
)

// Hidden is one invisible character found in the input.
type Hidden struct {
	Category  string // "zero-width", "bidi-control", "tag-char"
	Position  int    // byte offset
	Codepoint string // e.g. "U+200B"
}

// ScanResult summarizes a scan.
type ScanResult struct {
	Clean  bool
	Hidden []Hidden
	// TagText is the ASCII text encoded by tag characters, if any.
	TagText string
}

// Categories returns the distinct categories found, in first-seen order.
func (r ScanResult) Categories() []string {
	var out []string
	seen := make(map[string]bool)
	for _, h := range r.Hidden {
		if !seen[h.Category] {
			seen[h.Category] = true
			out = append(out, h.Category)
		}
	}
	return out
}

// Scan inspects at most limit bytes of input. limit <= 0 scans everything.
func Scan(input string, limit int) ScanResult {
	if limit > 0 && len(input) > limit {
		input = input[:limit]
	}
	result := ScanResult{Clean: true}
	var tags []byte

	for i, r := range input {
		if r == utf8.RuneError {
			continue
		}
		// A leading byte order mark is ordinary.
		if r == '\uFEFF' && i == 0 {
			continue
		}
		category := classifyRune(r)
		if category == "" {
			continue
		}
		result.Clean = false
		result.Hidden = append(result.Hidden, Hidden{
			Category:  category,
			Position:  i,
			Codepoint: fmt.Sprintf("U+%04X", r),
		})
		if category == "tag-char" && r >= 0xE0020 && r <= 0xE007E {
			tags = append(tags, byte(r-0xE0000))
		}
	}
	result.TagText = string(tags)
	return result
}

func classifyRune(r rune) string {
	switch {
	case isZeroWidth(r):
		return "zero-width"
	case isBidiControl(r):
		return "bidi-control"
	case r >= 0xE0001 && r <= 0xE007F:
		return "tag-char"
	}
	return ""
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', // ZERO WIDTH SPACE
		'\u200C', // ZERO WIDTH NON-JOINER
		'\u200D', // ZERO WIDTH JOINER
		'\uFEFF', // ZERO WIDTH NO-BREAK SPACE (BOM)
		'\u2060', // WORD JOINER
		'\u2061', '\u2062', '\u2063', '\u2064', // invisible math operators
		'\u180E': // MONGOLIAN VOWEL SEPARATOR
		return true
	}
	return false
}

func isBidiControl(r rune) bool {
	switch r {
	case '\u202A', // LEFT-TO-RIGHT EMBEDDING
		'\u202B', // RIGHT-TO-LEFT EMBEDDING
		'\u202C', // POP DIRECTIONAL FORMATTING
		'\u202D', // LEFT-TO-RIGHT OVERRIDE
		'\u202E', // RIGHT-TO-LEFT OVERRIDE
		'\u2066', // LEFT-TO-RIGHT ISOLATE
		'\u2067', // RIGHT-TO-LEFT ISOLATE
		'\u2068', // FIRST STRONG ISOLATE
		'\u2069': // POP DIRECTIONAL ISOLATE
		return true
	}
	return false
}
