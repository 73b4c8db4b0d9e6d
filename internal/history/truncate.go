package history

import (
	"strings"

	"github.com/ent0n29/complyassist/internal/memory"
)

const (
	// TruncationMarker ends a response that was cut to fit the budget.
	TruncationMarker = " …[truncated]"
	// TextTruncationNotice replaces the older lines dropped by TruncateText.
	TextTruncationNotice = "[earlier conversation truncated]"
	// DefaultMinAckTokens is the smallest response fragment worth keeping in a
	// boundary entry.
	DefaultMinAckTokens = 16
)

// Truncate keeps the longest newest-first prefix of history whose formatted
// cost fits allowance, then tries to fit the next entry with a shortened
// response. See TruncateWithFloor.
func Truncate(history []memory.Turn, allowance int) []memory.Turn {
	kept, _ := TruncateWithFloor(history, allowance, DefaultMinAckTokens)
	return kept
}

// TruncateWithFloor is Truncate with an explicit minimum acknowledgement size.
// The second result reports whether the last kept entry was shortened.
//
// An entry whose response is shortened keeps its full user text and ends with
// TruncationMarker. It is only produced when the remaining allowance covers
// the entry with an empty response plus minAck tokens; otherwise the entry is
// dropped.
func TruncateWithFloor(history []memory.Turn, allowance, minAck int) ([]memory.Turn, bool) {
	if allowance <= 0 || len(history) == 0 {
		return []memory.Turn{}, false
	}
	out := make([]memory.Turn, 0, len(history))
	used := 0
	for _, t := range history {
		cost := entryTokens(t)
		if used+cost <= allowance {
			out = append(out, t)
			used += cost
			continue
		}
		if cut, ok := shortenResponse(t, allowance-used, minAck); ok {
			return append(out, cut), true
		}
		break
	}
	return out, false
}

func shortenResponse(t memory.Turn, remaining, minAck int) (memory.Turn, bool) {
	shell := t
	shell.ResponseText = TruncationMarker
	if remaining < entryTokens(shell)+max(minAck, 0) {
		return memory.Turn{}, false
	}

	resp := []rune(oneLine(t.ResponseText))
	fits := func(n int) bool {
		c := t
		c.ResponseText = string(resp[:n]) + TruncationMarker
		return entryTokens(c) <= remaining
	}
	lo, hi := 0, len(resp)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	t.ResponseText = strings.TrimRight(string(resp[:lo]), " ") + TruncationMarker
	return t, true
}

// TruncateText trims formatted history to allowance by dropping whole lines
// from the end, which holds the oldest material, and appending
// TextTruncationNotice. Text that already fits is returned unchanged.
func TruncateText(text string, allowance int) string {
	if allowance <= 0 {
		return ""
	}
	if EstimateTokens(text) <= allowance {
		return text
	}
	lines := strings.SplitAfter(text, "\n")
	kept := 0
	for _, line := range lines {
		next := kept + len(line)
		if tokensForBytes(next+noticeCost(text[:next])) > allowance {
			break
		}
		kept = next
	}
	if kept == 0 {
		if EstimateTokens(TextTruncationNotice) <= allowance {
			return TextTruncationNotice
		}
		return ""
	}
	head := text[:kept]
	if !strings.HasSuffix(head, "\n") {
		head += "\n"
	}
	return head + TextTruncationNotice
}

func noticeCost(head string) int {
	n := len(TextTruncationNotice)
	if !strings.HasSuffix(head, "\n") {
		n++
	}
	return n
}
