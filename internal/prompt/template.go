package prompt

import "strings"

// HistorySlot is the tag that wraps conversation history in every template.
const HistorySlot = "conversation_history"

// Input is what a template renders.
type Input struct {
	UserText    string
	ModeContext string
	// HistoryText is inserted verbatim.
	HistoryText string
}

// Template renders the full prompt for one mode.
type Template interface {
	Render(in Input) string
}

// TemplateFunc adapts a function to Template.
type TemplateFunc func(in Input) string

func (f TemplateFunc) Render(in Input) string { return f(in) }

// SectionTemplate renders a preamble followed by tagged sections for the mode
// context, the history slot and the user message.
type SectionTemplate struct {
	Preamble   string
	ContextTag string
}

func (t SectionTemplate) Render(in Input) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.Preamble))
	b.WriteString("\n\n")
	writeSection(&b, t.ContextTag, strings.TrimSpace(in.ModeContext))
	writeSection(&b, HistorySlot, in.HistoryText)
	writeSection(&b, "user_message", strings.TrimSpace(in.UserText))
	return b.String()
}

func writeSection(b *strings.Builder, tag, body string) {
	b.WriteString("<")
	b.WriteString(tag)
	b.WriteString(">\n")
	b.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteString(">\n")
}

// DefaultTemplates returns the built-in template for every mode.
func DefaultTemplates() map[Mode]Template {
	out := make(map[Mode]Template, len(AllModes()))
	for _, m := range AllModes() {
		out[m] = builtinTemplate(m)
	}
	return out
}

func builtinTemplate(m Mode) Template {
	switch m {
	case ModeAssessment:
		return SectionTemplate{
			Preamble: "You are a compliance assistant reviewing the tenant's assessment results. " +
				"Ground every statement in the assessment context and name the control it concerns.",
			ContextTag: "assessment_context",
		}
	case ModeRegulatory:
		return SectionTemplate{
			Preamble: "You are a compliance assistant answering regulatory questions. " +
				"Cite the provided regulatory excerpts and say when they do not cover the question.",
			ContextTag: "regulatory_context",
		}
	default:
		return SectionTemplate{
			Preamble: "You are a compliance assistant helping a team track its obligations. " +
				"Answer concisely and use the conversation history for continuity.",
			ContextTag: "workspace_context",
		}
	}
}
