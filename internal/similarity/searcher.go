package similarity

import (
	"context"
	"strings"

	"github.com/ent0n29/complyassist/internal/memory"
)

// DefaultMinScore drops matches that share almost nothing with the query.
const DefaultMinScore = 0.2

// Searcher answers relevance queries by embedding the query text and
// searching the index. A nil *Searcher is an always-empty source.
type Searcher struct {
	embedder Embedder
	index    Index
	minScore float32
}

func NewSearcher(embedder Embedder, index Index, minScore float32) *Searcher {
	return &Searcher{embedder: embedder, index: index, minScore: minScore}
}

// FetchSimilar returns up to q.TopK turns ordered by descending similarity.
// A blank query yields no results.
func (s *Searcher) FetchSimilar(ctx context.Context, q memory.SimilarQuery) ([]memory.Turn, error) {
	if s == nil || strings.TrimSpace(q.Query) == "" {
		return nil, nil
	}
	if strings.TrimSpace(q.TenantID) == "" {
		return nil, memory.ErrTenantRequired
	}
	vec, err := s.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Search(ctx, vec, q)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Turn, 0, len(hits))
	for _, h := range hits {
		if h.Score < s.minScore {
			continue
		}
		out = append(out, h.Turn)
	}
	return out, nil
}

// Index embeds a saved turn so later queries can find it.
func (s *Searcher) Index(ctx context.Context, turn memory.Turn) error {
	if s == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, turn.UserText+"\n"+turn.ResponseText)
	if err != nil {
		return err
	}
	return s.index.Upsert(ctx, turn, vec)
}
