package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode means a request reached prompt assembly with a mode that has
// no template. It points at a dispatch defect, not a degraded state.
var ErrUnknownMode = errors.New("unknown assistant mode")

// Mode selects the assistant persona and its prompt template.
type Mode string

const (
	ModeGeneral    Mode = "general"
	ModeAssessment Mode = "assessment"
	ModeRegulatory Mode = "regulatory"
)

// AllModes lists every mode the service can dispatch. An Assembler must hold
// a template for each of them.
func AllModes() []Mode {
	return []Mode{ModeGeneral, ModeAssessment, ModeRegulatory}
}

func (m Mode) Valid() bool {
	switch m {
	case ModeGeneral, ModeAssessment, ModeRegulatory:
		return true
	default:
		return false
	}
}

func ParseMode(raw string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
	return m, nil
}
