package strings

import (
	"strings"
)

// DefaultDescriptionMaxLen is the default maximum length for statement text
// in formatted log output. Shared across packages so truncation behavior
// stays consistent.
const DefaultDescriptionMaxLen = 120

// MinTruncateLen is the minimum maxLen value for TruncateDescription.
// Values smaller than this would not leave room for meaningful content plus "...".
const MinTruncateLen = 4

// DefaultIDPrefixLen is the number of leading characters TruncateID keeps.
// Eight characters of a UUID are enough to correlate log lines without
// spilling the full identifier everywhere.
const DefaultIDPrefixLen = 8

// TruncateDescription truncates a string to maxLen characters and ensures
// single-line output. It replaces newlines with spaces, collapses runs of
// whitespace into single spaces, and adds "..." if truncated. Used to keep
// logged SQL statements and tool descriptions readable.
//
// The function operates on runes rather than bytes so multi-byte characters
// are never split. If maxLen is less than MinTruncateLen it is clamped.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	// strings.Fields splits on any whitespace (\n, \r, \t, repeated spaces);
	// rejoining with single spaces flattens the statement to one line.
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// TruncateID shortens an opaque identifier (session id, request id) to its
// leading prefixLen characters for log output, appending "..." when anything
// was cut. A non-positive prefixLen falls back to DefaultIDPrefixLen.
func TruncateID(id string, prefixLen int) string {
	if prefixLen <= 0 {
		prefixLen = DefaultIDPrefixLen
	}
	runes := []rune(id)
	if len(runes) <= prefixLen {
		return id
	}
	return string(runes[:prefixLen]) + "..."
}
