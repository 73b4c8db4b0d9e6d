package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewAdapterAutoFallsBackToMock(t *testing.T) {
	a, err := NewAdapter(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if got := Provider(a); got != "mock" {
		t.Fatalf("Provider() = %q, want mock", got)
	}

	resp, err := a.Generate(context.Background(), Request{Prompt: "<user_message>\nhello\n</user_message>\n"}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "Noted: hello" {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
}

func TestNewAdapterAutoPrefersAnthropic(t *testing.T) {
	a, err := NewAdapter(Config{Mode: "auto", AnthropicAPIKey: "k", HTTPURL: "http://model.test"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if got := Provider(a); got != "anthropic+http" {
		t.Fatalf("Provider() = %q, want anthropic+http", got)
	}
}

func TestNewAdapterModes(t *testing.T) {
	if _, err := NewAdapter(Config{Mode: "anthropic"}); err == nil {
		t.Fatalf("anthropic mode without key should fail")
	}
	if _, err := NewAdapter(Config{Mode: "http"}); err == nil {
		t.Fatalf("http mode without url should fail")
	}
	if _, err := NewAdapter(Config{Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}

func TestMockAdapterStreamsDeltas(t *testing.T) {
	p := "<conversation_history>\n[t] User: a\nAssistant: b\n</conversation_history>\n<user_message>\nwhat next\n</user_message>\n"
	var deltas []string
	resp, err := NewMockAdapter().Generate(context.Background(), Request{Prompt: p}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Join(deltas, "") != resp.Text {
		t.Fatalf("deltas %q do not add up to %q", deltas, resp.Text)
	}
	if !strings.Contains(resp.Text, "2 lines of earlier conversation") {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
}

func TestFallbackAdapterUsesFallback(t *testing.T) {
	a := NewFallbackAdapter(errAdapter{}, okAdapter{text: "fallback"})
	resp, err := a.Generate(context.Background(), Request{Prompt: "x"}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "fallback" {
		t.Fatalf("resp.Text = %q, want fallback", resp.Text)
	}
}

func TestFallbackAdapterSkipsFallbackOnCanceledContext(t *testing.T) {
	fb := &countingAdapter{text: "fallback"}
	a := NewFallbackAdapter(cancelAdapter{}, fb)
	_, err := a.Generate(context.Background(), Request{Prompt: "x"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fb.calls != 0 {
		t.Fatalf("fallback should not be called, calls = %d", fb.calls)
	}
}

func TestFallbackAdapterSilentPrimaryTimesOut(t *testing.T) {
	fb := &countingAdapter{text: "fallback"}
	a := NewFallbackAdapter(silentAdapter{}, fb).WithFirstDeltaTimeout(20 * time.Millisecond)
	resp, err := a.Generate(context.Background(), Request{Prompt: "x"}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "fallback" || fb.calls != 1 {
		t.Fatalf("resp = %+v, calls = %d", resp, fb.calls)
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		"":           nil,
		"canceled":   fmt.Errorf("x: %w", context.Canceled),
		"timeout":    context.DeadlineExceeded,
		"status_503": &StatusError{Code: 503},
		"error":      errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestHTTPAdapterJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"The register is complete."}`))
	}))
	defer srv.Close()

	var got string
	resp, err := NewHTTPAdapter(srv.URL, false).Generate(context.Background(), Request{Model: "m", Prompt: "p"}, func(d string) error {
		got += d
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "The register is complete." || got != resp.Text {
		t.Fatalf("resp.Text = %q, deltas = %q", resp.Text, got)
	}
}

func TestHTTPAdapterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(srv.URL, false).Generate(context.Background(), Request{Prompt: "p"}, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("Generate() error = %v, want StatusError 429", err)
	}
}

type errAdapter struct{}

func (errAdapter) Generate(context.Context, Request, DeltaHandler) (Response, error) {
	return Response{}, errors.New("boom")
}

type okAdapter struct {
	text string
}

func (a okAdapter) Generate(context.Context, Request, DeltaHandler) (Response, error) {
	return Response{Text: a.text}, nil
}

type cancelAdapter struct{}

func (cancelAdapter) Generate(context.Context, Request, DeltaHandler) (Response, error) {
	return Response{}, context.Canceled
}

type silentAdapter struct{}

func (silentAdapter) Generate(ctx context.Context, _ Request, _ DeltaHandler) (Response, error) {
	<-ctx.Done()
	return Response{}, ctx.Err()
}

type countingAdapter struct {
	text  string
	calls int
}

func (a *countingAdapter) Generate(context.Context, Request, DeltaHandler) (Response, error) {
	a.calls++
	return Response{Text: a.text}, nil
}
