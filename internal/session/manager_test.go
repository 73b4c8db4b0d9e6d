package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/complyassist/internal/memory"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s, err := m.Create("t1", "u1", "sys-a", "system")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get("t1", s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.ScopeID != "sys-a" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End("t1", s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if err := m.StartTurn("t1", s.ID, "turn-1"); !errors.Is(err, ErrEnded) {
		t.Fatalf("StartTurn(ended) error = %v, want ErrEnded", err)
	}
}

func TestManagerIsTenantBound(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Create(" ", "u1", "", ""); !errors.Is(err, memory.ErrTenantRequired) {
		t.Fatalf("Create(no tenant) error = %v", err)
	}
	s, _ := m.Create("t1", "u1", "", "")
	if _, err := m.Get("t2", s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(other tenant) error = %v, want ErrNotFound", err)
	}
	if _, err := m.End("t2", s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("End(other tenant) error = %v, want ErrNotFound", err)
	}
}

func TestManagerTurnLifecycle(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("t1", "u1", "", "")
	if err := m.StartTurn("t1", s.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.Interrupt("t1", s.ID); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	if err := m.StartTurn("t1", s.ID, "turn-2"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.FinishTurn("t1", s.ID); err != nil {
		t.Fatalf("FinishTurn() error = %v", err)
	}

	got, _ := m.Get("t1", s.ID)
	if got.ActiveTurnID != "" || got.InterruptionCount != 1 || got.TurnCount != 1 {
		t.Fatalf("unexpected session state: %+v", got)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s, _ := m.Create("t1", "u1", "", "")
	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired %q, want %q", id, s.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session was not expired")
	}
	got, err := m.Get("t1", s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
