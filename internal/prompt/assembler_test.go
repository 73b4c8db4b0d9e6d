package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/complyassist/internal/history"
)

func TestAssembleInjectsHistoryVerbatim(t *testing.T) {
	a := DefaultAssembler()
	hist := "[2026-03-01T09:00:00Z] User: q\nAssistant: a\n"
	for _, m := range AllModes() {
		out, err := a.Assemble(m, "What changed?", "ctx", hist)
		if err != nil {
			t.Fatalf("Assemble(%s) error = %v", m, err)
		}
		want := "<" + HistorySlot + ">\n" + hist + "</" + HistorySlot + ">\n"
		if !strings.Contains(out, want) {
			t.Fatalf("Assemble(%s) missing verbatim history slot:\n%s", m, out)
		}
		if !strings.Contains(out, "What changed?") {
			t.Fatalf("Assemble(%s) missing user text", m)
		}
	}
}

func TestAssembleEmptyHistoryKeepsSlot(t *testing.T) {
	out, err := DefaultAssembler().Assemble(ModeGeneral, "hi", "", "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !strings.Contains(out, "<conversation_history>\n</conversation_history>\n") {
		t.Fatalf("Assemble() = %q, want empty history slot", out)
	}
}

func TestAssembleUnknownMode(t *testing.T) {
	if _, err := DefaultAssembler().Assemble(Mode("poetry"), "hi", "", ""); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("Assemble(unknown) error = %v, want ErrUnknownMode", err)
	}
}

func TestNewAssemblerRequiresEveryMode(t *testing.T) {
	templates := DefaultTemplates()
	delete(templates, ModeRegulatory)
	if _, err := NewAssembler(templates); err == nil {
		t.Fatalf("NewAssembler() expected error for missing mode")
	}

	templates = DefaultTemplates()
	templates[Mode("extra")] = TemplateFunc(func(Input) string { return "" })
	if _, err := NewAssembler(templates); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("NewAssembler() error = %v, want ErrUnknownMode", err)
	}
}

func TestBaseTokensExcludesUserAndHistory(t *testing.T) {
	a := DefaultAssembler()
	base, err := a.BaseTokens(ModeAssessment, "score 82%")
	if err != nil {
		t.Fatalf("BaseTokens() error = %v", err)
	}
	user := "Which controls failed?"
	hist := "[2026-03-01T09:00:00Z] User: q\nAssistant: a\n"
	full, _ := a.Assemble(ModeAssessment, user, "score 82%", hist)
	if got := history.EstimateTokens(full); got > base+history.EstimateTokens(user)+history.EstimateTokens(hist) {
		t.Fatalf("full prompt %d tokens exceeds base+user+history", got)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(" Regulatory "); err != nil || m != ModeRegulatory {
		t.Fatalf("ParseMode() = %q, %v", m, err)
	}
	if _, err := ParseMode("chitchat"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("ParseMode(unknown) error = %v", err)
	}
}
