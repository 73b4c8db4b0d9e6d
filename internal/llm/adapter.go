package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Request is one completion call against a downstream model.
type Request struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

// Response is the final text after all deltas were delivered.
type Response struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

// DeltaHandler receives streamed text fragments in order.
type DeltaHandler func(delta string) error

// Adapter calls a model and streams its answer.
type Adapter interface {
	Generate(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode            string
	AnthropicAPIKey string
	AnthropicURL    string
	HTTPURL         string
	HTTPStrict      bool
}

// NewAdapter builds the adapter named by cfg.Mode: auto, anthropic, http or mock.
func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "anthropic":
		return NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.AnthropicURL)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("model HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL, cfg.HTTPStrict), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported model adapter mode %q", cfg.Mode)
	}
}

// newAutoAdapter prefers Anthropic when a key is configured and falls back to
// the HTTP endpoint, then to the mock.
func newAutoAdapter(cfg Config) Adapter {
	var secondary Adapter = NewMockAdapter()
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		secondary = NewHTTPAdapter(cfg.HTTPURL, cfg.HTTPStrict)
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		if a, err := NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.AnthropicURL); err == nil {
			if _, isMock := secondary.(*MockAdapter); isMock {
				return a
			}
			return NewFallbackAdapter(a, secondary)
		}
	}
	return secondary
}

// Provider names the adapter for logs and metrics.
func Provider(a Adapter) string {
	switch v := a.(type) {
	case *AnthropicAdapter:
		return "anthropic"
	case *HTTPAdapter:
		return "http"
	case *MockAdapter:
		return "mock"
	case *FallbackAdapter:
		return Provider(v.Primary()) + "+" + Provider(v.Secondary())
	case nil:
		return "none"
	default:
		return "custom"
	}
}

// ErrorCode reduces an adapter error to a low-cardinality metrics label.
func ErrorCode(err error) string {
	var apiErr *anthropic.Error
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("status_%d", apiErr.StatusCode)
	case errors.As(err, &se):
		return fmt.Sprintf("status_%d", se.Code)
	default:
		return "error"
	}
}
