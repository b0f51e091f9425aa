package channel

import (
	"strings"
	"unicode/utf8"
)

// splitWindow is how far back from the ceiling a newline or space is
// still accepted as a split point.
const splitWindow = 200

// SplitMessage splits text into chunks of at most maxLen bytes whose
// concatenation is text. It prefers to split after the last newline, then
// after the last space, inside the trailing window of each chunk; otherwise it
// hard-cuts at maxLen, backing off to a rune boundary.
func SplitMessage(text string, maxLen int) []string {
	if maxLen < 1 {
		maxLen = 1
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > maxLen {
		cut := splitPoint(remaining, maxLen)
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// splitPoint returns the length of the next chunk for s, where len(s) > maxLen.
func splitPoint(s string, maxLen int) int {
	head := s[:maxLen]
	floor := max(0, maxLen-splitWindow)

	if i := strings.LastIndexByte(head, '\n'); i > floor {
		return i + 1
	}
	if i := strings.LastIndexByte(head, ' '); i > floor {
		return i + 1
	}

	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		// A single rune wider than maxLen; emit it as bytes.
		return maxLen
	}
	return cut
}
