package history

import (
	"strings"
	"time"

	"github.com/ent0n29/complyassist/internal/memory"
)

// FormatEntry renders one exchange as exactly two lines:
//
//	[2026-03-01T12:00:00Z] User: ...
//	Assistant: ...
//
// Line breaks inside either side are folded into spaces.
func FormatEntry(t memory.Turn) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(t.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString("] User: ")
	b.WriteString(oneLine(t.UserText))
	b.WriteString("\nAssistant: ")
	b.WriteString(oneLine(t.ResponseText))
	b.WriteByte('\n')
	return b.String()
}

// FormatHistory concatenates entries in the given order, newest first.
func FormatHistory(turns []memory.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(FormatEntry(t))
	}
	return b.String()
}

func entryTokens(t memory.Turn) int {
	return EstimateTokens(FormatEntry(t))
}

func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }), " ")
}
