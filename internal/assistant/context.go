package assistant

import (
	"context"
	"strings"

	"github.com/ent0n29/complyassist/internal/prompt"
)

// ModeContextProvider supplies the mode-specific material placed next to the
// history, such as assessment results or regulatory excerpts.
type ModeContextProvider interface {
	ModeContext(ctx context.Context, req Request) (string, error)
}

// ModeContextFunc adapts a function to ModeContextProvider.
type ModeContextFunc func(ctx context.Context, req Request) (string, error)

func (f ModeContextFunc) ModeContext(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// StaticContextProvider returns the same text for every request.
type StaticContextProvider struct {
	Text string
}

func (p StaticContextProvider) ModeContext(context.Context, Request) (string, error) {
	return strings.TrimSpace(p.Text), nil
}

// DefaultContextProviders describes what each mode would draw on. Scoring
// and regulatory retrieval are separate services; these static stand-ins keep
// prompts well formed until they are wired.
func DefaultContextProviders() map[prompt.Mode]ModeContextProvider {
	return map[prompt.Mode]ModeContextProvider{
		prompt.ModeGeneral: ModeContextFunc(func(_ context.Context, req Request) (string, error) {
			if req.ScopeID == "" {
				return "Page: " + pageOrDefault(req.PageKind), nil
			}
			return "Page: " + pageOrDefault(req.PageKind) + "\nSystem: " + req.ScopeID, nil
		}),
		prompt.ModeAssessment: StaticContextProvider{Text: "No assessment results are attached to this request."},
		prompt.ModeRegulatory: StaticContextProvider{Text: "No regulatory excerpts are attached to this request."},
	}
}

func pageOrDefault(kind string) string {
	if k := strings.TrimSpace(kind); k != "" {
		return k
	}
	return "dashboard"
}
