package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultSessionID is used when a caller does not name a conversation thread.
const DefaultSessionID = "default"

// ErrTenantRequired is returned whenever a read or write arrives without a tenant.
var ErrTenantRequired = errors.New("tenant id is required")

// Origin records which retrieval source surfaced a turn. It is assigned while
// merging and never persisted.
type Origin string

const (
	OriginNone      Origin = ""
	OriginRecency   Origin = "recency"
	OriginRelevance Origin = "relevance"
)

// Turn stores one logged user/assistant exchange.
type Turn struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	SessionID    string    `json:"session_id"`
	ScopeID      string    `json:"scope_id,omitempty"`
	UserText     string    `json:"user_text"`
	ResponseText string    `json:"response_text"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	Origin       Origin    `json:"origin,omitempty"`
}

// RecentQuery describes a recency-store lookup.
type RecentQuery struct {
	TenantID  string
	SessionID string
	// ScopeID is only honoured when Scoped is set. A scoped query with an
	// empty ScopeID is invalid; an unscoped query matches general turns only.
	ScopeID string
	Scoped  bool
	// Filtered is false for the relaxed tenant+session lookup.
	Filtered bool
	Since    time.Time
	Limit    int
}

// Relaxed drops the scope and window filters, keeping tenant, session and limit.
func (q RecentQuery) Relaxed() RecentQuery {
	return RecentQuery{
		TenantID:  q.TenantID,
		SessionID: q.SessionID,
		Limit:     q.Limit,
	}
}

// Matches reports whether t satisfies the query's filters.
func (q RecentQuery) Matches(t Turn) bool {
	if t.TenantID != q.TenantID || t.SessionID != q.SessionID {
		return false
	}
	if !q.Filtered {
		return true
	}
	if q.Scoped {
		if t.ScopeID != q.ScopeID {
			return false
		}
	} else if t.ScopeID != "" {
		return false
	}
	if !q.Since.IsZero() && t.CreatedAt.Before(q.Since) {
		return false
	}
	return true
}

func (q RecentQuery) normalized() (RecentQuery, error) {
	q.TenantID = strings.TrimSpace(q.TenantID)
	if q.TenantID == "" {
		return q, ErrTenantRequired
	}
	q.SessionID = NormalizeSessionID(q.SessionID)
	if q.Limit <= 0 {
		q.Limit = 10
	}
	return q, nil
}

// NormalizeSessionID substitutes the sentinel session for empty ids.
func NormalizeSessionID(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return DefaultSessionID
	}
	return sessionID
}

// RecencyStore returns the most recent turns for a tenant/session, newest first.
// Implementations must return an error rather than an empty result when the
// lookup itself fails.
type RecencyStore interface {
	FetchRecent(ctx context.Context, q RecentQuery) ([]Turn, error)
}

// Writer persists completed exchanges.
type Writer interface {
	SaveTurn(ctx context.Context, turn Turn) error
}

// Store persists and retrieves conversation turns.
type Store interface {
	RecencyStore
	Writer
	Close() error
}

// SimilarQuery describes a relevance lookup. Results must stay inside the
// tenant and session; ScopeID empty means general turns only.
type SimilarQuery struct {
	Query     string
	TenantID  string
	SessionID string
	ScopeID   string
	Scoped    bool
	TopK      int
}
