package history

import (
	"strings"
	"time"
)

// PageKind names the product surface a request came from.
type PageKind string

const (
	PageDashboard  PageKind = "dashboard"
	PageSystem     PageKind = "system"
	PageAssessment PageKind = "assessment"
	PageReport     PageKind = "report"
	PageChat       PageKind = "chat"
)

// DefaultGeneralWindow bounds general (unscoped) history to recent activity.
const DefaultGeneralWindow = 24 * time.Hour

// RetrievalPlan tells the sources which turns a request may see.
type RetrievalPlan struct {
	PageKind PageKind
	// ScopeID is set only when UseScopedFilter is true.
	ScopeID         string
	UseScopedFilter bool
	// GeneralWindow is zero for scoped plans or when no window applies.
	GeneralWindow time.Duration
}

// Since returns the lower bound on CreatedAt, or the zero time when the plan
// carries no window.
func (p RetrievalPlan) Since(now time.Time) time.Time {
	if p.UseScopedFilter || p.GeneralWindow <= 0 {
		return time.Time{}
	}
	return now.Add(-p.GeneralWindow)
}

// Admits reports whether a turn belongs to the plan's scope. Scoped plans
// admit only the exact scope; general plans admit only unscoped turns.
func (p RetrievalPlan) Admits(scopeID string) bool {
	if p.UseScopedFilter {
		return scopeID == p.ScopeID
	}
	return scopeID == ""
}

// ScopeOptions tunes the resolver. PageWindows overrides the general window
// for specific page kinds; unknown kinds use GeneralWindow.
type ScopeOptions struct {
	GeneralWindow time.Duration
	PageWindows   map[PageKind]time.Duration
}

// ResolveScope picks the retrieval plan for a request. A present scope id
// restricts retrieval to that scope with no fallback to general turns; an
// absent one restricts retrieval to general turns inside a trailing window.
func ResolveScope(scopeID string, pageKind string, opts ScopeOptions) RetrievalPlan {
	kind := normalizePageKind(pageKind)
	scopeID = strings.TrimSpace(scopeID)
	if scopeID != "" {
		return RetrievalPlan{PageKind: kind, ScopeID: scopeID, UseScopedFilter: true}
	}

	window := opts.GeneralWindow
	if window <= 0 {
		window = DefaultGeneralWindow
	}
	if w, ok := opts.PageWindows[kind]; ok && w > 0 {
		window = w
	}
	return RetrievalPlan{PageKind: kind, GeneralWindow: window}
}

func normalizePageKind(raw string) PageKind {
	switch k := PageKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case PageDashboard, PageSystem, PageAssessment, PageReport, PageChat:
		return k
	default:
		return PageDashboard
	}
}
