package history

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/complyassist/internal/memory"
	"github.com/ent0n29/complyassist/internal/observability"
	"github.com/ent0n29/complyassist/internal/reliability"
)

// RelevanceSource returns past turns similar to a query.
type RelevanceSource interface {
	FetchSimilar(ctx context.Context, q memory.SimilarQuery) ([]memory.Turn, error)
}

// Options tunes retrieval. Zero values take the defaults below.
type Options struct {
	RecentLimit   int
	TopK          int
	GeneralWindow time.Duration
	PageWindows   map[PageKind]time.Duration
	DedupPrefix   int
	SourceTimeout time.Duration
	MinAckTokens  int
	Now           func() time.Time
}

const (
	DefaultRecentLimit   = 20
	DefaultTopK          = 5
	DefaultSourceTimeout = 2 * time.Second
)

func (o Options) withDefaults() Options {
	if o.RecentLimit <= 0 {
		o.RecentLimit = DefaultRecentLimit
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.GeneralWindow <= 0 {
		o.GeneralWindow = DefaultGeneralWindow
	}
	if o.DedupPrefix <= 0 {
		o.DedupPrefix = DefaultDedupPrefix
	}
	if o.SourceTimeout <= 0 {
		o.SourceTimeout = DefaultSourceTimeout
	}
	if o.MinAckTokens <= 0 {
		o.MinAckTokens = DefaultMinAckTokens
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Request identifies whose history to assemble and how much room it may use.
type Request struct {
	TenantID  string
	SessionID string
	ScopeID   string
	PageKind  string
	Query     string
	// Budget is the history allowance in estimated tokens.
	Budget int
}

// Result is the assembled history plus retrieval statistics.
type Result struct {
	Turns          []memory.Turn `json:"turns"`
	Text           string        `json:"text"`
	Tokens         int           `json:"tokens"`
	Plan           RetrievalPlan `json:"-"`
	RecencyCount   int           `json:"recency_count"`
	RelevanceCount int           `json:"relevance_count"`
	Dropped        int           `json:"dropped"`
	Truncated      bool          `json:"truncated"`
	Degraded       []string      `json:"degraded,omitempty"`
}

// Engine assembles formatted conversation history for one request. Source
// failures degrade to empty results and never fail the request.
type Engine struct {
	recency   memory.RecencyStore
	relevance RelevanceSource
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func NewEngine(recency memory.RecencyStore, relevance RelevanceSource, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		recency:   recency,
		relevance: relevance,
		opts:      opts.withDefaults(),
		logger:    logger,
		metrics:   metrics,
	}
}

// FormattedHistory returns the history text for req, never exceeding
// req.Budget estimated tokens. An empty string is a valid result.
func (e *Engine) FormattedHistory(ctx context.Context, req Request) (string, error) {
	res, err := e.History(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// History is FormattedHistory with the kept turns and statistics. The only
// error is memory.ErrTenantRequired.
func (e *Engine) History(ctx context.Context, req Request) (Result, error) {
	tenant := strings.TrimSpace(req.TenantID)
	if tenant == "" {
		return Result{}, memory.ErrTenantRequired
	}
	session := memory.NormalizeSessionID(req.SessionID)
	plan := ResolveScope(req.ScopeID, req.PageKind, ScopeOptions{
		GeneralWindow: e.opts.GeneralWindow,
		PageWindows:   e.opts.PageWindows,
	})
	res := Result{Turns: []memory.Turn{}, Plan: plan}
	if req.Budget <= 0 {
		return res, nil
	}

	var (
		recent, similar       []memory.Turn
		recentDeg, similarDeg string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recent, recentDeg = e.fetchRecent(gctx, tenant, session, plan)
		return nil
	})
	g.Go(func() error {
		similar, similarDeg = e.fetchSimilar(gctx, tenant, session, plan, req.Query)
		return nil
	})
	_ = g.Wait()
	for _, d := range []string{recentDeg, similarDeg} {
		if d != "" {
			res.Degraded = append(res.Degraded, d)
		}
	}

	start := time.Now()
	// Replies are flattened before merging so dedup keys match the formatted text.
	merged := Merge(normalizeReplies(recent), normalizeReplies(similar), e.opts.DedupPrefix)
	kept, cut := TruncateWithFloor(merged, req.Budget, e.opts.MinAckTokens)
	text := FormatHistory(kept)
	if EstimateTokens(text) > req.Budget {
		text = TruncateText(text, req.Budget)
		e.metrics.ObserveTruncation("text")
	}
	e.metrics.ObserveStage("merge_truncate", time.Since(start))

	res.Turns = kept
	res.Text = text
	res.Tokens = EstimateTokens(text)
	res.Dropped = len(merged) - len(kept)
	res.Truncated = cut || res.Dropped > 0
	for _, t := range kept {
		if t.Origin == memory.OriginRelevance {
			res.RelevanceCount++
		} else {
			res.RecencyCount++
		}
	}
	if res.Dropped > 0 {
		e.metrics.ObserveTruncation("entry")
	}
	if cut {
		e.metrics.ObserveTruncation("boundary")
	}
	e.metrics.ObserveHistoryTokens(res.Tokens)
	return res, nil
}

func (e *Engine) fetchRecent(ctx context.Context, tenant, session string, plan RetrievalPlan) ([]memory.Turn, string) {
	if e.recency == nil {
		return nil, ""
	}
	start := time.Now()
	defer func() { e.metrics.ObserveStage("recency_fetch", time.Since(start)) }()

	q := memory.RecentQuery{
		TenantID:  tenant,
		SessionID: session,
		ScopeID:   plan.ScopeID,
		Scoped:    plan.UseScopedFilter,
		Filtered:  true,
		Since:     plan.Since(e.opts.Now()),
		Limit:     e.opts.RecentLimit,
	}
	turns, err := e.callRecent(ctx, q)
	if err == nil {
		e.metrics.ObserveSource("recency", "ok")
		return keepMatching(turns, q, q.Limit), ""
	}
	if reliability.IsCanceled(ctx, err) {
		e.metrics.ObserveSource("recency", "canceled")
		e.logger.Debug("recency fetch canceled", "tenant_id", tenant, "session_id", session)
		return nil, "recency"
	}

	e.logger.Warn("recency fetch failed; retrying with relaxed filters",
		"tenant_id", tenant, "session_id", session, "scope_id", plan.ScopeID, "error", err)
	turns, err = e.callRecent(ctx, q.Relaxed())
	if err != nil {
		e.metrics.ObserveSource("recency", "failed")
		e.logger.Warn("recency fetch degraded to empty",
			"tenant_id", tenant, "session_id", session, "error", err)
		return nil, "recency"
	}
	e.metrics.ObserveSource("recency", "relaxed")
	// The relaxed lookup drops the time window but scope isolation still holds.
	scopeOnly := q
	scopeOnly.Since = time.Time{}
	return keepMatching(turns, scopeOnly, q.Limit), ""
}

func (e *Engine) callRecent(ctx context.Context, q memory.RecentQuery) ([]memory.Turn, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.SourceTimeout)
	defer cancel()
	return e.recency.FetchRecent(ctx, q)
}

func (e *Engine) fetchSimilar(ctx context.Context, tenant, session string, plan RetrievalPlan, query string) ([]memory.Turn, string) {
	if e.relevance == nil || strings.TrimSpace(query) == "" {
		e.metrics.ObserveSource("relevance", "skipped")
		return nil, ""
	}
	start := time.Now()
	defer func() { e.metrics.ObserveStage("relevance_fetch", time.Since(start)) }()

	sctx, cancel := context.WithTimeout(ctx, e.opts.SourceTimeout)
	defer cancel()
	turns, err := e.relevance.FetchSimilar(sctx, memory.SimilarQuery{
		Query:     query,
		TenantID:  tenant,
		SessionID: session,
		ScopeID:   plan.ScopeID,
		Scoped:    plan.UseScopedFilter,
		TopK:      e.opts.TopK,
	})
	if err != nil {
		outcome := "failed"
		if reliability.IsCanceled(ctx, err) {
			outcome = "canceled"
		}
		e.metrics.ObserveSource("relevance", outcome)
		e.logger.Warn("relevance fetch degraded to empty",
			"tenant_id", tenant, "session_id", session, "scope_id", plan.ScopeID, "error", err)
		return nil, "relevance"
	}
	e.metrics.ObserveSource("relevance", "ok")

	out := make([]memory.Turn, 0, len(turns))
	for _, t := range turns {
		if t.TenantID != tenant || memory.NormalizeSessionID(t.SessionID) != session || !plan.Admits(t.ScopeID) {
			continue
		}
		out = append(out, t)
		if len(out) == e.opts.TopK {
			break
		}
	}
	return out, ""
}

func keepMatching(turns []memory.Turn, q memory.RecentQuery, limit int) []memory.Turn {
	out := make([]memory.Turn, 0, len(turns))
	for _, t := range turns {
		if !q.Matches(t) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
