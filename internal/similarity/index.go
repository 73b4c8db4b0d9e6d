package similarity

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ent0n29/complyassist/internal/memory"
)

// Hit is one similarity match.
type Hit struct {
	Turn  memory.Turn
	Score float32
}

// Index stores turn vectors and answers nearest-neighbour queries restricted
// to the tenant, session and scope in q.
type Index interface {
	Upsert(ctx context.Context, turn memory.Turn, vec []float32) error
	Search(ctx context.Context, vec []float32, q memory.SimilarQuery) ([]Hit, error)
}

type indexedTurn struct {
	turn memory.Turn
	vec  []float32
}

// MemoryIndex is a brute-force cosine index for development and tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]indexedTurn
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]indexedTurn)}
}

func (m *MemoryIndex) Upsert(_ context.Context, turn memory.Turn, vec []float32) error {
	if turn.TenantID == "" {
		return memory.ErrTenantRequired
	}
	turn.SessionID = memory.NormalizeSessionID(turn.SessionID)
	m.mu.Lock()
	m.entries[turn.ID] = indexedTurn{turn: turn, vec: append([]float32(nil), vec...)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vec []float32, q memory.SimilarQuery) ([]Hit, error) {
	if q.TenantID == "" {
		return nil, memory.ErrTenantRequired
	}
	session := memory.NormalizeSessionID(q.SessionID)

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if !admits(q, session, e.turn) {
			continue
		}
		hits = append(hits, Hit{Turn: e.turn, Score: cosine(vec, e.vec)})
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].Turn.CreatedAt.After(hits[j].Turn.CreatedAt)
		}
		return hits[i].Score > hits[j].Score
	})
	if q.TopK > 0 && len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	return hits, nil
}

func admits(q memory.SimilarQuery, session string, t memory.Turn) bool {
	if t.TenantID != q.TenantID || t.SessionID != session {
		return false
	}
	if q.Scoped {
		return t.ScopeID == q.ScopeID
	}
	return t.ScopeID == ""
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
