package chat

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// leadingWordRe captures a fragment's optional leading whitespace and first
// word.
var leadingWordRe = regexp.MustCompile(`^(\s*)(\S+)`)

// RepairBoundary strips a duplicated boundary word from the front of the next
// stream fragment. The model occasionally repeats the token at a chunk join.
// The heuristic requires an exact word match plus a whitespace boundary shape
// on at least one side, so legitimate repeated words inside a fragment are
// never touched.
func RepairBoundary(accumulated, fragment string) string {
	if accumulated == "" || fragment == "" {
		return fragment
	}

	m := leadingWordRe.FindStringSubmatch(fragment)
	if m == nil {
		return fragment
	}
	lead := m[2]

	fields := strings.Fields(accumulated)
	if len(fields) == 0 {
		return fragment
	}
	trail := fields[len(fields)-1]
	if trail != lead {
		return fragment
	}

	if !endsWithSpacedWord(accumulated, trail) && !wordFollowedBySpace(fragment, len(m[0])) {
		return fragment
	}

	return fragment[len(m[0]):]
}

// endsWithSpacedWord reports whether s ends in whitespace immediately
// followed by word.
func endsWithSpacedWord(s, word string) bool {
	if !strings.HasSuffix(s, word) || len(s) <= len(word) {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:len(s)-len(word)])
	return unicode.IsSpace(r)
}

// wordFollowedBySpace reports whether the rune at byte offset off (just past
// the leading word) is whitespace.
func wordFollowedBySpace(s string, off int) bool {
	if off >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[off:])
	return unicode.IsSpace(r)
}

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// NormalizeContent collapses runs of three or more newlines to exactly two
// and trims trailing whitespace.
func NormalizeContent(s string) string {
	return strings.TrimRight(excessNewlines.ReplaceAllString(s, "\n\n"), " \t\r\n")
}
