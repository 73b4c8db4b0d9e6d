package history

import (
	"errors"
	"testing"
	"time"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 2},
		{"é", 1},
		{"abcdef", 2},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.in); got != tc.want {
			t.Fatalf("EstimateTokens(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestBudget(t *testing.T) {
	limits := ModelLimits{ContextWindow: 1000, MaxOutputTokens: 200, ReservedOverheadTokens: 100}
	l := Budget(limits, 300, 50)
	if l.Allowance != 350 {
		t.Fatalf("Allowance = %d, want 350", l.Allowance)
	}
	if l.BasePromptTokens != 300 || l.UserMessageTokens != 50 {
		t.Fatalf("ledger = %+v", l)
	}
	if got := Budget(limits, 900, 50).Allowance; got != 0 {
		t.Fatalf("over-committed Allowance = %d, want 0", got)
	}
}

func TestModelTable(t *testing.T) {
	table, err := NewModelTable(DefaultModelLimits())
	if err != nil {
		t.Fatalf("NewModelTable() error = %v", err)
	}
	if _, err := table.Lookup(" Claude-Sonnet-4-5 "); err != nil {
		t.Fatalf("Lookup(known) error = %v", err)
	}
	if _, err := table.Lookup("gpt-2"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("Lookup(unknown) error = %v, want ErrUnknownModel", err)
	}

	bad := map[string]ModelLimits{"tiny": {ContextWindow: 100, MaxOutputTokens: 100}}
	if err := table.Replace(bad); err == nil {
		t.Fatalf("Replace(invalid) expected error")
	}
	if _, err := table.Lookup("gpt-4o"); err != nil {
		t.Fatalf("failed Replace changed the table: %v", err)
	}

	if err := table.Replace(map[string]ModelLimits{"local": {ContextWindow: 4096, MaxOutputTokens: 512}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if got := table.Models(); len(got) != 1 || got[0] != "local" {
		t.Fatalf("Models() = %v, want [local]", got)
	}
}

func TestResolveScope(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	scoped := ResolveScope(" sys-1 ", "system", ScopeOptions{})
	if !scoped.UseScopedFilter || scoped.ScopeID != "sys-1" || !scoped.Since(now).IsZero() {
		t.Fatalf("scoped plan = %+v", scoped)
	}
	if scoped.Admits("") || scoped.Admits("sys-2") || !scoped.Admits("sys-1") {
		t.Fatalf("scoped Admits() wrong")
	}

	general := ResolveScope("", "nonsense", ScopeOptions{})
	if general.UseScopedFilter || general.PageKind != PageDashboard {
		t.Fatalf("general plan = %+v", general)
	}
	if got := general.Since(now); !got.Equal(now.Add(-DefaultGeneralWindow)) {
		t.Fatalf("Since() = %v, want %v", got, now.Add(-DefaultGeneralWindow))
	}
	if !general.Admits("") || general.Admits("sys-1") {
		t.Fatalf("general Admits() wrong")
	}

	report := ResolveScope("", "REPORT", ScopeOptions{
		GeneralWindow: time.Hour,
		PageWindows:   map[PageKind]time.Duration{PageReport: 7 * 24 * time.Hour},
	})
	if report.GeneralWindow != 7*24*time.Hour {
		t.Fatalf("report window = %v, want 168h", report.GeneralWindow)
	}
}
