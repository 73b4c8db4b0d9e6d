package prompt

import (
	"fmt"

	"github.com/ent0n29/complyassist/internal/history"
)

// Assembler dispatches a mode to its template.
type Assembler struct {
	templates map[Mode]Template
}

// NewAssembler requires a template for every mode in AllModes and rejects
// templates registered for anything else.
func NewAssembler(templates map[Mode]Template) (*Assembler, error) {
	registered := make(map[Mode]Template, len(templates))
	for m, t := range templates {
		if !m.Valid() {
			return nil, fmt.Errorf("%w: template registered for %q", ErrUnknownMode, m)
		}
		if t == nil {
			return nil, fmt.Errorf("nil template for mode %q", m)
		}
		registered[m] = t
	}
	for _, m := range AllModes() {
		if _, ok := registered[m]; !ok {
			return nil, fmt.Errorf("no template registered for mode %q", m)
		}
	}
	return &Assembler{templates: registered}, nil
}

func DefaultAssembler() *Assembler {
	a, err := NewAssembler(DefaultTemplates())
	if err != nil {
		panic(err)
	}
	return a
}

// Assemble renders the final prompt. historyText is placed as given, empty or not.
func (a *Assembler) Assemble(mode Mode, userText, modeContext, historyText string) (string, error) {
	t, err := a.template(mode)
	if err != nil {
		return "", err
	}
	return t.Render(Input{UserText: userText, ModeContext: modeContext, HistoryText: historyText}), nil
}

// BaseTokens estimates the prompt without history and without the user's
// message, which budgets count separately. The extra token covers the line
// breaks a template adds after non-empty sections.
func (a *Assembler) BaseTokens(mode Mode, modeContext string) (int, error) {
	t, err := a.template(mode)
	if err != nil {
		return 0, err
	}
	return history.EstimateTokens(t.Render(Input{ModeContext: modeContext})) + 1, nil
}

func (a *Assembler) template(mode Mode) (Template, error) {
	t, ok := a.templates[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return t, nil
}
