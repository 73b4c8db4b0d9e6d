package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/complyassist/internal/history"
	"github.com/ent0n29/complyassist/internal/llm"
	"github.com/ent0n29/complyassist/internal/memory"
	"github.com/ent0n29/complyassist/internal/observability"
	"github.com/ent0n29/complyassist/internal/policy"
	"github.com/ent0n29/complyassist/internal/prompt"
)

// DefaultPlaceholderBaseTokens sizes the first history budget before the
// mode context is known.
const DefaultPlaceholderBaseTokens = 1500

// Classifier picks a mode for an utterance.
type Classifier interface {
	Classify(ctx context.Context, userText string) (prompt.Mode, error)
}

// HistorySource is the history engine as seen by the pipeline.
type HistorySource interface {
	History(ctx context.Context, req history.Request) (history.Result, error)
}

// TurnIndexer makes saved turns searchable by similarity.
type TurnIndexer interface {
	Index(ctx context.Context, turn memory.Turn) error
}

// Request is one user message with its scoping context.
type Request struct {
	TenantID  string      `json:"-"`
	TurnID    string      `json:"-"`
	SessionID string      `json:"session_id"`
	ScopeID   string      `json:"scope_id,omitempty"`
	PageKind  string      `json:"page_kind,omitempty"`
	Mode      prompt.Mode `json:"mode,omitempty"`
	Model     string      `json:"model,omitempty"`
	UserText  string      `json:"user_text"`
}

// Prompt is an assembled prompt plus the budget decisions behind it.
type Prompt struct {
	Text          string         `json:"text"`
	Mode          prompt.Mode    `json:"mode"`
	Model         string         `json:"model"`
	HistoryText   string         `json:"history_text"`
	History       history.Result `json:"history"`
	Initial       history.Ledger `json:"initial_budget"`
	Final         history.Ledger `json:"final_budget"`
	TextTruncated bool           `json:"text_truncated"`
}

// Reply is the model's answer to one request.
type Reply struct {
	TurnID string `json:"turn_id,omitempty"`
	Text   string `json:"text"`
	Prompt Prompt `json:"-"`
}

type Deps struct {
	History          HistorySource
	Assembler        *prompt.Assembler
	Models           *history.ModelTable
	Classifier       Classifier
	Contexts         map[prompt.Mode]ModeContextProvider
	Model            llm.Adapter
	Writer           memory.Writer
	Indexer          TurnIndexer
	DefaultModel     string
	PlaceholderBase  int
	ModeContextLimit time.Duration
	Logger           *slog.Logger
	Metrics          *observability.Metrics
}

// Pipeline builds prompts with a two-phase history budget and runs them
// against the model.
type Pipeline struct {
	deps Deps
}

func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.History == nil {
		return nil, errors.New("history source is required")
	}
	if deps.Models == nil {
		return nil, errors.New("model table is required")
	}
	if deps.Assembler == nil {
		deps.Assembler = prompt.DefaultAssembler()
	}
	if deps.Classifier == nil {
		deps.Classifier = policy.KeywordClassifier{}
	}
	if deps.Contexts == nil {
		deps.Contexts = DefaultContextProviders()
	}
	if deps.PlaceholderBase <= 0 {
		deps.PlaceholderBase = DefaultPlaceholderBaseTokens
	}
	if deps.ModeContextLimit <= 0 {
		deps.ModeContextLimit = 3 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{deps: deps}, nil
}

// BuildPrompt assembles the prompt for req. Tenant, model and mode faults are
// returned as errors; history and mode-context failures only shrink the prompt.
func (p *Pipeline) BuildPrompt(ctx context.Context, req Request) (Prompt, error) {
	start := time.Now()
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		return Prompt{}, memory.ErrTenantRequired
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.deps.DefaultModel
	}
	limits, err := p.deps.Models.Lookup(model)
	if err != nil {
		return Prompt{}, err
	}
	mode, err := p.resolveMode(ctx, req)
	if err != nil {
		return Prompt{}, err
	}
	req.Mode = mode

	userTokens := history.EstimateTokens(req.UserText)
	initial := history.Budget(limits, p.deps.PlaceholderBase, userTokens)

	var (
		hist    history.Result
		modeCtx string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hist, err = p.deps.History.History(gctx, history.Request{
			TenantID:  req.TenantID,
			SessionID: req.SessionID,
			ScopeID:   req.ScopeID,
			PageKind:  req.PageKind,
			Query:     req.UserText,
			Budget:    initial.Allowance,
		})
		return err
	})
	g.Go(func() error {
		modeCtx = p.modeContext(gctx, req)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Prompt{}, err
	}

	base, err := p.deps.Assembler.BaseTokens(mode, modeCtx)
	if err != nil {
		return Prompt{}, err
	}
	final := history.Budget(limits, base, userTokens)

	historyText := hist.Text
	textCut := false
	if history.EstimateTokens(historyText) > final.Allowance {
		historyText = history.TruncateText(historyText, final.Allowance)
		textCut = true
		p.deps.Metrics.ObserveTruncation("text")
	}

	text, err := p.deps.Assembler.Assemble(mode, req.UserText, modeCtx, historyText)
	if err != nil {
		return Prompt{}, err
	}
	p.deps.Metrics.ObservePromptBuild(time.Since(start))
	return Prompt{
		Text:          text,
		Mode:          mode,
		Model:         model,
		HistoryText:   historyText,
		History:       hist,
		Initial:       initial,
		Final:         final,
		TextTruncated: textCut,
	}, nil
}

func (p *Pipeline) resolveMode(ctx context.Context, req Request) (prompt.Mode, error) {
	if req.Mode != "" {
		return prompt.ParseMode(string(req.Mode))
	}
	mode, err := p.deps.Classifier.Classify(ctx, req.UserText)
	if err != nil {
		p.deps.Logger.Warn("mode classification failed; using general mode", "tenant_id", req.TenantID, "error", err)
		return prompt.ModeGeneral, nil
	}
	return mode, nil
}

func (p *Pipeline) modeContext(ctx context.Context, req Request) string {
	provider, ok := p.deps.Contexts[req.Mode]
	if !ok {
		return ""
	}
	start := time.Now()
	defer func() { p.deps.Metrics.ObserveStage("mode_context", time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.deps.ModeContextLimit)
	defer cancel()
	text, err := provider.ModeContext(ctx, req)
	if err != nil {
		p.deps.Logger.Warn("mode context degraded to empty",
			"tenant_id", req.TenantID, "session_id", req.SessionID, "mode", req.Mode, "error", err)
		return ""
	}
	return text
}

// Respond builds the prompt, streams the model's answer through onDelta and
// records the exchange. Recording failures are logged, not returned.
func (p *Pipeline) Respond(ctx context.Context, req Request, onDelta llm.DeltaHandler) (Reply, error) {
	if p.deps.Model == nil {
		return Reply{}, errors.New("model adapter is not configured")
	}
	built, err := p.BuildPrompt(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	resp, err := p.deps.Model.Generate(ctx, llm.Request{
		Model:     built.Model,
		Prompt:    built.Text,
		MaxTokens: built.Final.MaxOutputTokens,
	}, onDelta)
	if err != nil {
		p.deps.Metrics.ObserveModelError(llm.Provider(p.deps.Model), llm.ErrorCode(err))
		return Reply{}, err
	}

	turnID := strings.TrimSpace(req.TurnID)
	if turnID == "" {
		turnID = uuid.NewString()
	}
	turn := memory.Turn{
		ID:           turnID,
		TenantID:     strings.TrimSpace(req.TenantID),
		SessionID:    memory.NormalizeSessionID(req.SessionID),
		ScopeID:      strings.TrimSpace(req.ScopeID),
		UserText:     req.UserText,
		ResponseText: resp.Text,
		Mode:         string(built.Mode),
		CreatedAt:    time.Now().UTC(),
	}
	saved, err := p.RecordTurn(ctx, turn)
	if err != nil {
		p.deps.Logger.Warn("turn not recorded", "tenant_id", turn.TenantID, "session_id", turn.SessionID, "error", err)
	}
	if saved.ID == "" {
		saved.ID = turnID
	}
	return Reply{TurnID: saved.ID, Text: resp.Text, Prompt: built}, nil
}

// RecordTurn redacts PII, persists the turn and indexes it for similarity
// search. Indexing is best-effort.
func (p *Pipeline) RecordTurn(ctx context.Context, turn memory.Turn) (memory.Turn, error) {
	turn.TenantID = strings.TrimSpace(turn.TenantID)
	if turn.TenantID == "" {
		return memory.Turn{}, memory.ErrTenantRequired
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	turn.SessionID = memory.NormalizeSessionID(turn.SessionID)
	turn.UserText, _ = policy.RedactPII(turn.UserText)
	turn.ResponseText, _ = policy.RedactPII(turn.ResponseText)

	if p.deps.Writer != nil {
		if err := p.deps.Writer.SaveTurn(ctx, turn); err != nil {
			return memory.Turn{}, err
		}
	}
	if p.deps.Indexer != nil {
		if err := p.deps.Indexer.Index(ctx, turn); err != nil {
			p.deps.Logger.Warn("turn not indexed for similarity",
				"tenant_id", turn.TenantID, "session_id", turn.SessionID, "turn_id", turn.ID, "error", err)
		}
	}
	return turn, nil
}

// Models exposes the model table, for listing endpoints.
func (p *Pipeline) Models() *history.ModelTable { return p.deps.Models }
