package history

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownModel is a configuration fault: the caller asked to budget for a
// model that has no registered limits.
var ErrUnknownModel = errors.New("unknown model identifier")

// ModelLimits describes the context window of a downstream model.
type ModelLimits struct {
	ContextWindow          int `yaml:"context_window" json:"context_window"`
	MaxOutputTokens        int `yaml:"max_output_tokens" json:"max_output_tokens"`
	ReservedOverheadTokens int `yaml:"reserved_overhead_tokens" json:"reserved_overhead_tokens"`
}

func (l ModelLimits) Validate() error {
	if l.ContextWindow <= 0 {
		return errors.New("context_window must be positive")
	}
	if l.MaxOutputTokens < 0 || l.ReservedOverheadTokens < 0 {
		return errors.New("max_output_tokens and reserved_overhead_tokens must be >= 0")
	}
	if l.MaxOutputTokens+l.ReservedOverheadTokens >= l.ContextWindow {
		return errors.New("max_output_tokens + reserved_overhead_tokens must be below context_window")
	}
	return nil
}

// DefaultModelLimits is the built-in model table. Entries loaded from the
// model limits file are merged over it.
func DefaultModelLimits() map[string]ModelLimits {
	return map[string]ModelLimits{
		"claude-sonnet-4-5": {ContextWindow: 200000, MaxOutputTokens: 8192, ReservedOverheadTokens: 1024},
		"claude-haiku-4-5":  {ContextWindow: 200000, MaxOutputTokens: 8192, ReservedOverheadTokens: 1024},
		"claude-opus-4-1":   {ContextWindow: 200000, MaxOutputTokens: 8192, ReservedOverheadTokens: 1024},
		"gpt-4o":            {ContextWindow: 128000, MaxOutputTokens: 4096, ReservedOverheadTokens: 512},
		"gpt-4o-mini":       {ContextWindow: 128000, MaxOutputTokens: 4096, ReservedOverheadTokens: 512},
		"mock":              {ContextWindow: 8192, MaxOutputTokens: 1024, ReservedOverheadTokens: 256},
	}
}

// ModelTable maps model identifiers to their limits. It is safe for
// concurrent use and may be replaced wholesale when the limits file changes.
type ModelTable struct {
	mu     sync.RWMutex
	models map[string]ModelLimits
}

func NewModelTable(models map[string]ModelLimits) (*ModelTable, error) {
	t := &ModelTable{}
	if err := t.Replace(models); err != nil {
		return nil, err
	}
	return t, nil
}

// Replace validates models and swaps them in atomically. On error the current
// table is left untouched.
func (t *ModelTable) Replace(models map[string]ModelLimits) error {
	next := make(map[string]ModelLimits, len(models))
	for name, limits := range models {
		key := normalizeModel(name)
		if key == "" {
			return errors.New("model table contains an empty model identifier")
		}
		if err := limits.Validate(); err != nil {
			return fmt.Errorf("model %q: %w", name, err)
		}
		next[key] = limits
	}
	t.mu.Lock()
	t.models = next
	t.mu.Unlock()
	return nil
}

func (t *ModelTable) Lookup(model string) (ModelLimits, error) {
	t.mu.RLock()
	limits, ok := t.models[normalizeModel(model)]
	t.mu.RUnlock()
	if !ok {
		return ModelLimits{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return limits, nil
}

// Models lists registered identifiers in sorted order.
func (t *ModelTable) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.models))
	for name := range t.models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

// Ledger is the per-request record of how the context window was spent.
type Ledger struct {
	ContextWindow          int `json:"context_window"`
	MaxOutputTokens        int `json:"max_output_tokens"`
	ReservedOverheadTokens int `json:"reserved_overhead_tokens"`
	BasePromptTokens       int `json:"base_prompt_tokens"`
	UserMessageTokens      int `json:"user_message_tokens"`
	// Allowance is the history budget, clamped to zero.
	Allowance int `json:"allowance"`
}

// Budget computes the history allowance left once output, overhead, the
// non-history prompt and the user's message are reserved.
func Budget(limits ModelLimits, basePromptTokens, userMessageTokens int) Ledger {
	l := Ledger{
		ContextWindow:          limits.ContextWindow,
		MaxOutputTokens:        limits.MaxOutputTokens,
		ReservedOverheadTokens: limits.ReservedOverheadTokens,
		BasePromptTokens:       max(basePromptTokens, 0),
		UserMessageTokens:      max(userMessageTokens, 0),
	}
	remaining := l.ContextWindow - l.MaxOutputTokens - l.ReservedOverheadTokens - l.BasePromptTokens - l.UserMessageTokens
	l.Allowance = max(remaining, 0)
	return l
}
