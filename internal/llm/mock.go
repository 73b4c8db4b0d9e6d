package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/complyassist/internal/prompt"
)

// MockAdapter answers deterministically without a model, for local runs and tests.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Generate(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req.Prompt)
	if onDelta != nil {
		for _, chunk := range strings.SplitAfter(text, " ") {
			if chunk == "" {
				continue
			}
			if err := onDelta(chunk); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{Text: text, Provider: "mock"}, nil
}

func buildMockReply(p string) string {
	user := strings.TrimSpace(section(p, "user_message"))
	if user == "" {
		user = "your question"
	}
	hist := strings.TrimSpace(section(p, prompt.HistorySlot))
	if hist == "" {
		return fmt.Sprintf("Noted: %s", user)
	}
	return fmt.Sprintf("Noted: %s (with %d lines of earlier conversation)", user, strings.Count(hist, "\n")+1)
}

func section(p, tag string) string {
	open, end := "<"+tag+">", "</"+tag+">"
	i := strings.Index(p, open)
	if i < 0 {
		return ""
	}
	rest := p[i+len(open):]
	j := strings.Index(rest, end)
	if j < 0 {
		return ""
	}
	return rest[:j]
}
