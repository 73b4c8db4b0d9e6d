package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process turn store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Turn)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn Turn) error {
	turn, err := prepareTurn(turn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := threadKey(turn.TenantID, turn.SessionID)
	s.records[key] = append(s.records[key], turn)
	return nil
}

func (s *InMemoryStore) FetchRecent(ctx context.Context, q RecentQuery) ([]Turn, error) {
	q, err := q.normalized()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	arr := s.records[threadKey(q.TenantID, q.SessionID)]
	matched := make([]Turn, 0, len(arr))
	for _, t := range arr {
		if q.Matches(t) {
			matched = append(matched, t)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *InMemoryStore) Close() error { return nil }

func threadKey(tenantID, sessionID string) string {
	return tenantID + "\x00" + sessionID
}

// prepareTurn validates and fills the server-assigned fields of a turn before
// it is written.
func prepareTurn(turn Turn) (Turn, error) {
	turn.TenantID = strings.TrimSpace(turn.TenantID)
	if turn.TenantID == "" {
		return Turn{}, ErrTenantRequired
	}
	turn.SessionID = NormalizeSessionID(turn.SessionID)
	turn.ScopeID = strings.TrimSpace(turn.ScopeID)
	turn.Origin = OriginNone
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	return turn, nil
}
