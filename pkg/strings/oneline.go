// Package strings holds text helpers shared by the CLI and the daemon.
package strings

import (
	"strings"
)

// minOneLineLen leaves room for one character plus the ellipsis.
const minOneLineLen = 4

// OneLine collapses all whitespace in s, including newlines, into single
// spaces and cuts the result to maxLen runes, ending in "..." when cut.
// maxLen values below 4 are treated as 4.
func OneLine(s string, maxLen int) string {
	if maxLen < minOneLineLen {
		maxLen = minOneLineLen
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
