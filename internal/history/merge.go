package history

import (
	"sort"

	"github.com/zeebo/blake3"

	"github.com/ent0n29/complyassist/internal/memory"
)

// DefaultDedupPrefix is how many runes of the response participate in the
// duplicate key.
const DefaultDedupPrefix = 100

type dedupKey [32]byte

// contentKey identifies an exchange by its user text plus the opening of the
// response. Turns that differ only after the prefix collapse into one.
func contentKey(t memory.Turn, prefixLen int) dedupKey {
	resp := []rune(t.ResponseText)
	if prefixLen >= 0 && len(resp) > prefixLen {
		resp = resp[:prefixLen]
	}
	h := blake3.New()
	_, _ = h.Write([]byte(t.UserText))
	_, _ = h.Write([]byte{0x1f})
	_, _ = h.Write([]byte(string(resp)))
	var key dedupKey
	copy(key[:], h.Sum(nil))
	return key
}

// Merge combines recency and relevance results into one list with no two
// entries sharing a content key, ordered newest first. On a timestamp tie
// recency entries precede relevance entries, and input order decides the rest.
// When a duplicate appears in both lists the recency copy wins. Entries keep
// an origin they already carry; untagged ones are tagged by their source list.
// The inputs are not modified.
func Merge(recent, similar []memory.Turn, prefixLen int) []memory.Turn {
	if prefixLen <= 0 {
		prefixLen = DefaultDedupPrefix
	}
	seen := make(map[dedupKey]struct{}, len(recent)+len(similar))
	out := make([]memory.Turn, 0, len(recent)+len(similar))

	add := func(turns []memory.Turn, origin memory.Origin) {
		for _, t := range turns {
			key := contentKey(t, prefixLen)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if t.Origin == memory.OriginNone {
				t.Origin = origin
			}
			out = append(out, t)
		}
	}
	add(recent, memory.OriginRecency)
	add(similar, memory.OriginRelevance)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return originRank(a.Origin) < originRank(b.Origin)
	})
	return out
}

func originRank(o memory.Origin) int {
	if o == memory.OriginRelevance {
		return 1
	}
	return 0
}
