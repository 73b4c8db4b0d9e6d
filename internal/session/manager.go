package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/complyassist/internal/memory"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session has ended")
)

// Session is one chat thread of a tenant's user. Its ID doubles as the
// history session id, so turns logged in it stay in one thread.
type Session struct {
	ID                string    `json:"session_id"`
	TenantID          string    `json:"tenant_id"`
	UserID            string    `json:"user_id"`
	Status            Status    `json:"status"`
	ScopeID           string    `json:"scope_id,omitempty"`
	PageKind          string    `json:"page_kind,omitempty"`
	ActiveTurnID      string    `json:"active_turn_id"`
	TurnCount         int       `json:"turn_count"`
	InterruptionCount int       `json:"interruption_count"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// Manager tracks live chat sessions in memory. Every lookup is tenant-bound:
// a session id presented under another tenant is reported as not found.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	endedRetention    time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		endedRetention:    10 * time.Minute,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetEndedRetention controls how long ended sessions stay readable before the
// janitor forgets them.
func (m *Manager) SetEndedRetention(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.endedRetention = d
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) Create(tenantID, userID, scopeID, pageKind string) (*Session, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, memory.ErrTenantRequired
	}
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		UserID:         strings.TrimSpace(userID),
		Status:         StatusActive,
		ScopeID:        strings.TrimSpace(scopeID),
		PageKind:       strings.TrimSpace(pageKind),
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s), nil
}

func (m *Manager) Get(tenantID, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return clone(s), nil
}

// StartTurn marks a turn as in flight on an active session.
func (m *Manager) StartTurn(tenantID, sessionID, turnID string) error {
	_, err := m.mutate(tenantID, sessionID, func(s *Session) error {
		if s.Status != StatusActive {
			return ErrEnded
		}
		s.ActiveTurnID = turnID
		return nil
	})
	return err
}

func (m *Manager) FinishTurn(tenantID, sessionID string) error {
	_, err := m.mutate(tenantID, sessionID, func(s *Session) error {
		s.ActiveTurnID = ""
		s.TurnCount++
		return nil
	})
	return err
}

// Interrupt records a cancelled turn.
func (m *Manager) Interrupt(tenantID, sessionID string) error {
	_, err := m.mutate(tenantID, sessionID, func(s *Session) error {
		s.ActiveTurnID = ""
		s.InterruptionCount++
		return nil
	})
	return err
}

func (m *Manager) End(tenantID, sessionID string) (*Session, error) {
	return m.mutate(tenantID, sessionID, func(s *Session) error {
		s.Status = StatusEnded
		s.ActiveTurnID = ""
		return nil
	})
}

// mutate applies fn to the tenant's session under the write lock and bumps
// its activity time when fn succeeds.
func (m *Manager) mutate(tenantID, sessionID string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) lookup(tenantID, sessionID string) (*Session, error) {
	s, ok := m.sessions[strings.TrimSpace(sessionID)]
	if !ok || s.TenantID != strings.TrimSpace(tenantID) {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status != StatusActive {
			if now.Sub(s.LastActivityAt) >= m.endedRetention {
				delete(m.sessions, id)
			}
			continue
		}
		if s.ActiveTurnID != "" || now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
