package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/complyassist/internal/assistant"
	"github.com/ent0n29/complyassist/internal/config"
	"github.com/ent0n29/complyassist/internal/history"
	"github.com/ent0n29/complyassist/internal/llm"
	"github.com/ent0n29/complyassist/internal/memory"
	"github.com/ent0n29/complyassist/internal/observability"
	"github.com/ent0n29/complyassist/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		DefaultModel:             "mock",
		PlaceholderBaseTokens:    200,
	}
	metrics := observability.NewMetricsWithRegisterer("test_httpapi", prometheus.NewRegistry())
	store := memory.NewInMemoryStore()
	engine := history.NewEngine(store, nil, history.Options{}, nil, metrics)
	models, err := history.NewModelTable(history.DefaultModelLimits())
	if err != nil {
		t.Fatalf("NewModelTable() error = %v", err)
	}
	pipeline, err := assistant.NewPipeline(assistant.Deps{
		History:         engine,
		Models:          models,
		Model:           llm.NewMockAdapter(),
		Writer:          store,
		DefaultModel:    cfg.DefaultModel,
		PlaceholderBase: cfg.PlaceholderBaseTokens,
		Metrics:         metrics,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	srv := New(cfg, Deps{
		Sessions:     session.NewManager(cfg.SessionInactivityTimeout),
		Assistant:    pipeline,
		History:      engine,
		Metrics:      metrics,
		StoreBackend: memory.Backend(store),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, tenant string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer res.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(res.Body).Decode(&payload)
	return res, payload
}

func TestCreateAndEndSession(t *testing.T) {
	ts := newTestServer(t)

	res, created := postJSON(t, ts.URL+"/v1/sessions", "t1", map[string]string{
		"user_id":  "user-1",
		"scope_id": "sys-a",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	if created["tenant_id"] != "t1" || created["scope_id"] != "sys-a" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	res, _ = postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/end", "t2", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("end by other tenant status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	res, _ = postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/end", "t1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestTenantRequired(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/v1/history", "/v1/prompt", "/v1/turns", "/v1/sessions"} {
		res, payload := postJSON(t, ts.URL+path, "", map[string]string{"user_text": "hi", "query": "hi"})
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s status = %d, want %d", path, res.StatusCode, http.StatusBadRequest)
		}
		if payload["code"] != "tenant_required" {
			t.Fatalf("%s code = %v, want tenant_required", path, payload["code"])
		}
	}
}

func TestRecordTurnThenHistory(t *testing.T) {
	ts := newTestServer(t)

	res, saved := postJSON(t, ts.URL+"/v1/turns", "t1", map[string]string{
		"session_id":    "s1",
		"user_text":     "Who owns the vendor register? Mail me at dpo@example.com",
		"response_text": "The procurement lead owns it.",
		"mode":          "general",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record status = %d, want %d (%+v)", res.StatusCode, http.StatusCreated, saved)
	}
	if text, _ := saved["user_text"].(string); strings.Contains(text, "dpo@example.com") {
		t.Fatalf("stored user_text was not redacted: %q", text)
	}

	res, got := postJSON(t, ts.URL+"/v1/history", "t1", map[string]any{
		"session_id": "s1",
		"query":      "vendor register",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	text, _ := got["text"].(string)
	if !strings.Contains(text, "User: Who owns the vendor register?") || !strings.Contains(text, "Assistant: The procurement lead owns it.") {
		t.Fatalf("history text = %q", text)
	}
	if budget, _ := got["budget"].(float64); budget <= 0 {
		t.Fatalf("derived budget = %v, want > 0", got["budget"])
	}

	_, other := postJSON(t, ts.URL+"/v1/history", "t2", map[string]any{"session_id": "s1", "budget": 500})
	if text, _ := other["text"].(string); text != "" {
		t.Fatalf("other tenant saw history: %q", text)
	}
}

func TestPromptRejectsUnknownModelAndMode(t *testing.T) {
	ts := newTestServer(t)

	res, payload := postJSON(t, ts.URL+"/v1/prompt", "t1", map[string]string{"user_text": "hi", "model": "gpt-2"})
	if res.StatusCode != http.StatusBadRequest || payload["code"] != "unknown_model" {
		t.Fatalf("unknown model: status = %d, payload = %+v", res.StatusCode, payload)
	}
	res, payload = postJSON(t, ts.URL+"/v1/prompt", "t1", map[string]string{"user_text": "hi", "mode": "poetry"})
	if res.StatusCode != http.StatusBadRequest || payload["code"] != "unknown_mode" {
		t.Fatalf("unknown mode: status = %d, payload = %+v", res.StatusCode, payload)
	}
	res, payload = postJSON(t, ts.URL+"/v1/prompt", "t1", map[string]string{"user_text": "What does Article 30 require?"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("prompt status = %d, payload = %+v", res.StatusCode, payload)
	}
	if text, _ := payload["text"].(string); !strings.Contains(text, "<conversation_history>") {
		t.Fatalf("prompt text missing history slot: %q", text)
	}
}

func TestReplyIsRecorded(t *testing.T) {
	ts := newTestServer(t)

	res, reply := postJSON(t, ts.URL+"/v1/replies", "t1", map[string]string{
		"session_id": "s1",
		"user_text":  "Summarise our open actions",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reply status = %d, payload = %+v", res.StatusCode, reply)
	}
	if text, _ := reply["text"].(string); !strings.HasPrefix(text, "Noted: Summarise our open actions") {
		t.Fatalf("reply text = %q", text)
	}
	if reply["turn_id"] == "" {
		t.Fatalf("missing turn_id: %+v", reply)
	}

	_, got := postJSON(t, ts.URL+"/v1/history", "t1", map[string]any{"session_id": "s1", "budget": 500})
	if text, _ := got["text"].(string); !strings.Contains(text, "User: Summarise our open actions") {
		t.Fatalf("history text = %q", text)
	}
}

func TestListModels(t *testing.T) {
	ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/v1/models")
	if err != nil {
		t.Fatalf("GET /v1/models error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		DefaultModel string `json:"default_model"`
		Models       []struct {
			Model         string `json:"model"`
			ContextWindow int    `json:"context_window"`
		} `json:"models"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.DefaultModel != "mock" {
		t.Fatalf("default_model = %q, want mock", payload.DefaultModel)
	}
	found := false
	for _, m := range payload.Models {
		if m.Model == "mock" && m.ContextWindow == 8192 {
			found = true
		}
	}
	if !found {
		t.Fatalf("mock model missing from %+v", payload.Models)
	}
}

func TestHealthAndPerf(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestSessionWSChat(t *testing.T) {
	ts := newTestServer(t)
	_, created := postJSON(t, ts.URL+"/v1/sessions", "t1", map[string]string{"user_id": "u1"})
	sessionID, _ := created["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=" + sessionID
	if _, res, err := websocket.DefaultDialer.Dial(wsURL+"&tenant_id=t2", nil); err == nil {
		t.Fatalf("dial with other tenant succeeded")
	} else if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("dial with other tenant: err = %v", err)
	}

	header := http.Header{}
	header.Set(TenantHeader, "t1")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready map[string]any
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("read ready event: %v", err)
	}
	if ready["type"] != "system_event" || ready["code"] != "session_ready" {
		t.Fatalf("first event = %+v", ready)
	}

	if err := conn.WriteJSON(map[string]string{
		"type":       "user_message",
		"session_id": sessionID,
		"text":       "Is our DPIA complete?",
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var streamed strings.Builder
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read event: %v", err)
		}
		switch msg["type"] {
		case "assistant_delta":
			delta, _ := msg["text_delta"].(string)
			streamed.WriteString(delta)
			continue
		case "assistant_done":
			if msg["reason"] != "completed" {
				t.Fatalf("done reason = %v, want completed", msg["reason"])
			}
			if msg["text"] != streamed.String() {
				t.Fatalf("done text %q != streamed %q", msg["text"], streamed.String())
			}
			if !strings.HasPrefix(streamed.String(), "Noted: Is our DPIA complete?") {
				t.Fatalf("streamed text = %q", streamed.String())
			}
			return
		default:
			t.Fatalf("unexpected event: %+v", msg)
		}
	}
}
