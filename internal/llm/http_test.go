package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func streamServer(t *testing.T, contentType string, lines []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "internal-llm" || req.MaxTokens != 512 || !strings.Contains(req.Prompt, "<user_message>") {
			http.Error(w, fmt.Sprintf("unexpected request %+v", req), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", contentType)
		for _, line := range lines {
			_, _ = fmt.Fprintln(w, line)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRequest() Request {
	return Request{
		Model:     "internal-llm",
		Prompt:    "<user_message>\nWho signs off the DPIA?\n</user_message>\n",
		MaxTokens: 512,
	}
}

func TestHTTPAdapterStreamsSSE(t *testing.T) {
	srv := streamServer(t, "text/event-stream", []string{
		": keepalive",
		"",
		`data: {"delta":"The DPO "}`,
		"",
		`data: {"delta":"signs off."}`,
		"",
		"data: [DONE]",
		"",
	})
	a := NewHTTPAdapter(srv.URL, false)

	var deltas []string
	resp, err := a.Generate(context.Background(), testRequest(), func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "The DPO signs off." || resp.Provider != "http" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %q, want 2 fragments", deltas)
	}
}

func TestHTTPAdapterStreamsNDJSONUntilDone(t *testing.T) {
	srv := streamServer(t, "application/x-ndjson", []string{
		`{"text":"Owner: "}`,
		"procurement",
		"[DONE]",
		`{"text":"ignored"}`,
	})
	resp, err := NewHTTPAdapter(srv.URL, false).Generate(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "Owner: procurement" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Owner: procurement")
	}
}

func TestHTTPAdapterStrictRejectsNonJSONLines(t *testing.T) {
	cases := map[string][]string{
		"text/event-stream":    {"data: {not-json}", ""},
		"application/x-ndjson": {"not-json"},
	}
	for contentType, lines := range cases {
		srv := streamServer(t, contentType, lines)
		if _, err := NewHTTPAdapter(srv.URL, true).Generate(context.Background(), testRequest(), nil); err == nil {
			t.Fatalf("%s: Generate() expected error in strict mode", contentType)
		}
	}
}

func TestHTTPAdapterStopsWhenHandlerFails(t *testing.T) {
	srv := streamServer(t, "text/event-stream", []string{`data: {"delta":"a"}`, `data: {"delta":"b"}`})
	stop := context.Canceled
	calls := 0
	_, err := NewHTTPAdapter(srv.URL, false).Generate(context.Background(), testRequest(), func(string) error {
		calls++
		return stop
	})
	if err != stop {
		t.Fatalf("Generate() error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}
