package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryStoreContract(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisStoreContract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, RedisConfig{Prefix: "test"})
	defer s.Close()
	exerciseStore(t, s)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if got := Backend(s); got != "in-memory" {
		t.Fatalf("Backend() = %q, want in-memory", got)
	}

	s, err = NewStore(context.Background(), "sqlite://:memory:")
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer s.Close()
	if got := Backend(s); got != "sqlite" {
		t.Fatalf("Backend() = %q, want sqlite", got)
	}

	if _, err := NewStore(context.Background(), "mysql://nope"); err == nil {
		t.Fatalf("NewStore(mysql) expected error")
	}
}

func TestRecentQueryRelaxedDropsFilters(t *testing.T) {
	q := RecentQuery{TenantID: "t1", SessionID: "s1", ScopeID: "sys-1", Scoped: true, Filtered: true, Since: time.Now(), Limit: 7}
	r := q.Relaxed()
	if r.Filtered || r.Scoped || r.ScopeID != "" || !r.Since.IsZero() {
		t.Fatalf("Relaxed() kept filters: %+v", r)
	}
	if r.TenantID != "t1" || r.SessionID != "s1" || r.Limit != 7 {
		t.Fatalf("Relaxed() lost identity: %+v", r)
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []Turn{
		{TenantID: "t1", SessionID: "s1", UserText: "general old", ResponseText: "a", CreatedAt: base.Add(-48 * time.Hour)},
		{TenantID: "t1", SessionID: "s1", UserText: "general 1", ResponseText: "b", CreatedAt: base.Add(-2 * time.Hour)},
		{TenantID: "t1", SessionID: "s1", UserText: "general 2", ResponseText: "c", CreatedAt: base.Add(-1 * time.Hour)},
		{TenantID: "t1", SessionID: "s1", ScopeID: "sys-a", UserText: "scoped a", ResponseText: "d", CreatedAt: base.Add(-30 * time.Minute)},
		{TenantID: "t1", SessionID: "s1", ScopeID: "sys-b", UserText: "scoped b", ResponseText: "e", CreatedAt: base.Add(-20 * time.Minute)},
		{TenantID: "t2", SessionID: "s1", UserText: "other tenant", ResponseText: "f", CreatedAt: base},
		{TenantID: "t1", UserText: "default session", ResponseText: "g", CreatedAt: base},
	}
	for _, turn := range seed {
		if err := s.SaveTurn(ctx, turn); err != nil {
			t.Fatalf("SaveTurn(%q) error = %v", turn.UserText, err)
		}
	}

	if err := s.SaveTurn(ctx, Turn{UserText: "no tenant"}); !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("SaveTurn(no tenant) error = %v, want ErrTenantRequired", err)
	}
	if _, err := s.FetchRecent(ctx, RecentQuery{SessionID: "s1"}); !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("FetchRecent(no tenant) error = %v, want ErrTenantRequired", err)
	}

	general, err := s.FetchRecent(ctx, RecentQuery{
		TenantID: "t1", SessionID: "s1", Filtered: true, Since: base.Add(-24 * time.Hour), Limit: 10,
	})
	if err != nil {
		t.Fatalf("FetchRecent(general) error = %v", err)
	}
	assertUserTexts(t, "general", general, "general 2", "general 1")

	scoped, err := s.FetchRecent(ctx, RecentQuery{
		TenantID: "t1", SessionID: "s1", ScopeID: "sys-a", Scoped: true, Filtered: true, Limit: 10,
	})
	if err != nil {
		t.Fatalf("FetchRecent(scoped) error = %v", err)
	}
	assertUserTexts(t, "scoped", scoped, "scoped a")

	missing, err := s.FetchRecent(ctx, RecentQuery{
		TenantID: "t1", SessionID: "s1", ScopeID: "sys-z", Scoped: true, Filtered: true, Limit: 10,
	})
	if err != nil {
		t.Fatalf("FetchRecent(missing scope) error = %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("FetchRecent(missing scope) = %d turns, want 0", len(missing))
	}

	relaxed, err := s.FetchRecent(ctx, RecentQuery{TenantID: "t1", SessionID: "s1", Limit: 3})
	if err != nil {
		t.Fatalf("FetchRecent(relaxed) error = %v", err)
	}
	assertUserTexts(t, "relaxed", relaxed, "scoped b", "scoped a", "general 2")

	defaults, err := s.FetchRecent(ctx, RecentQuery{TenantID: "t1", Filtered: true, Limit: 5})
	if err != nil {
		t.Fatalf("FetchRecent(default session) error = %v", err)
	}
	assertUserTexts(t, "default session", defaults, "default session")
	if defaults[0].SessionID != DefaultSessionID {
		t.Fatalf("SessionID = %q, want %q", defaults[0].SessionID, DefaultSessionID)
	}
	if defaults[0].ID == "" {
		t.Fatalf("expected generated turn id")
	}
}

func assertUserTexts(t *testing.T, label string, got []Turn, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d turns, want %d (%+v)", label, len(got), len(want), got)
	}
	for i := range want {
		if got[i].UserText != want[i] {
			t.Fatalf("%s: turn[%d].UserText = %q, want %q", label, i, got[i].UserText, want[i])
		}
	}
}
