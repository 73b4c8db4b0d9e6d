package policy

import (
	"context"
	"regexp"
	"strings"

	"github.com/ent0n29/complyassist/internal/prompt"
)

var (
	regulatoryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(article|art\.)\s*\d+`),
		regexp.MustCompile(`(?i)\b(gdpr|dora|nis\s?2|eu ai act|iso\s?27001|soc\s?2|hipaa|pci[\s-]?dss)\b`),
	}
	regulatoryKeywords = []string{
		"regulation", "directive", "regulator", "obligation", "legal basis",
		"supervisory authority", "what does the law", "requirement under",
	}
	assessmentKeywords = []string{
		"assessment", "score", "gap", "maturity", "control status",
		"failed control", "evidence", "remediation", "audit finding", "readiness",
	}
)

// KeywordClassifier routes an utterance to a mode with keyword heuristics.
// Assessment cues win over regulatory cues because assessment answers cite
// regulations anyway.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(_ context.Context, userText string) (prompt.Mode, error) {
	return ClassifyMode(userText), nil
}

func ClassifyMode(userText string) prompt.Mode {
	in := strings.ToLower(strings.TrimSpace(userText))
	if in == "" {
		return prompt.ModeGeneral
	}
	for _, kw := range assessmentKeywords {
		if strings.Contains(in, kw) {
			return prompt.ModeAssessment
		}
	}
	for _, re := range regulatoryPatterns {
		if re.MatchString(in) {
			return prompt.ModeRegulatory
		}
	}
	for _, kw := range regulatoryKeywords {
		if strings.Contains(in, kw) {
			return prompt.ModeRegulatory
		}
	}
	return prompt.ModeGeneral
}
