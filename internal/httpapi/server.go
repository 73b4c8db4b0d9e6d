package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/complyassist/internal/assistant"
	"github.com/ent0n29/complyassist/internal/config"
	"github.com/ent0n29/complyassist/internal/history"
	"github.com/ent0n29/complyassist/internal/llm"
	"github.com/ent0n29/complyassist/internal/memory"
	"github.com/ent0n29/complyassist/internal/observability"
	"github.com/ent0n29/complyassist/internal/prompt"
	"github.com/ent0n29/complyassist/internal/protocol"
	"github.com/ent0n29/complyassist/internal/session"
)

// TenantHeader carries the caller's tenant. Token verification happens
// upstream of this service.
const TenantHeader = "X-Tenant-ID"

// Assistant is the prompt pipeline as seen by the transport.
type Assistant interface {
	BuildPrompt(ctx context.Context, req assistant.Request) (assistant.Prompt, error)
	Respond(ctx context.Context, req assistant.Request, onDelta llm.DeltaHandler) (assistant.Reply, error)
	RecordTurn(ctx context.Context, turn memory.Turn) (memory.Turn, error)
	Models() *history.ModelTable
}

// HistoryService produces formatted history for a budget.
type HistoryService interface {
	History(ctx context.Context, req history.Request) (history.Result, error)
}

type Deps struct {
	Sessions     *session.Manager
	Assistant    Assistant
	History      HistoryService
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	StoreBackend string
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	assistant Assistant
	history   HistoryService
	metrics   *observability.Metrics
	logger    *slog.Logger
	backend   string
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend := deps.StoreBackend
	if backend == "" {
		backend = "unknown"
	}
	return &Server{
		cfg:       cfg,
		sessions:  deps.Sessions,
		assistant: deps.Assistant,
		history:   deps.History,
		metrics:   deps.Metrics,
		logger:    logger,
		backend:   backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/v1/models", s.handleListModels)
	r.Post("/v1/history", s.handleHistory)
	r.Post("/v1/prompt", s.handlePrompt)
	r.Post("/v1/replies", s.handleReply)
	r.Post("/v1/turns", s.handleRecordTurn)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Get("/v1/sessions/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"store_backend": s.backend,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.assistant == nil || s.history == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":        "not_ready",
			"store_backend": s.backend,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"store_backend": s.backend,
		"models":        len(s.assistant.Models().Models()),
	})
}

type modelEntry struct {
	Model string `json:"model"`
	history.ModelLimits
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	if s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return
	}
	table := s.assistant.Models()
	out := make([]modelEntry, 0)
	for _, name := range table.Models() {
		limits, err := table.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, modelEntry{Model: name, ModelLimits: limits})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"default_model": s.cfg.DefaultModel,
		"models":        out,
	})
}

type historyRequest struct {
	SessionID string `json:"session_id"`
	ScopeID   string `json:"scope_id"`
	PageKind  string `json:"page_kind"`
	Query     string `json:"query"`
	// Budget in estimated tokens. When zero it is derived from Model's limits.
	Budget int    `json:"budget"`
	Model  string `json:"model"`
}

type historyResponse struct {
	history.Result
	Budget int `json:"budget"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil || s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history engine not configured")
		return
	}
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req historyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Budget < 0 {
		respondError(w, http.StatusBadRequest, "invalid_budget", "budget must be >= 0")
		return
	}
	budget := req.Budget
	if budget == 0 {
		model := strings.TrimSpace(req.Model)
		if model == "" {
			model = s.cfg.DefaultModel
		}
		limits, err := s.assistant.Models().Lookup(model)
		if err != nil {
			s.respondPipelineError(w, err)
			return
		}
		budget = history.Budget(limits, s.placeholderBase(), history.EstimateTokens(req.Query)).Allowance
	}

	res, err := s.history.History(r.Context(), history.Request{
		TenantID:  tenant,
		SessionID: req.SessionID,
		ScopeID:   req.ScopeID,
		PageKind:  req.PageKind,
		Query:     req.Query,
		Budget:    budget,
	})
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, historyResponse{Result: res, Budget: budget})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAssistantRequest(w, r)
	if !ok {
		return
	}
	built, err := s.assistant.BuildPrompt(r.Context(), req)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, built)
}

type replyResponse struct {
	TurnID        string      `json:"turn_id"`
	Text          string      `json:"text"`
	Mode          prompt.Mode `json:"mode"`
	Model         string      `json:"model"`
	HistoryTokens int         `json:"history_tokens"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAssistantRequest(w, r)
	if !ok {
		return
	}
	reply, err := s.assistant.Respond(r.Context(), req, nil)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, replyResponse{
		TurnID:        reply.TurnID,
		Text:          reply.Text,
		Mode:          reply.Prompt.Mode,
		Model:         reply.Prompt.Model,
		HistoryTokens: history.EstimateTokens(reply.Prompt.HistoryText),
	})
}

func (s *Server) decodeAssistantRequest(w http.ResponseWriter, r *http.Request) (assistant.Request, bool) {
	if s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return assistant.Request{}, false
	}
	tenant, ok := requireTenant(w, r)
	if !ok {
		return assistant.Request{}, false
	}
	var req assistant.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return assistant.Request{}, false
	}
	if strings.TrimSpace(req.UserText) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_text is required")
		return assistant.Request{}, false
	}
	req.TenantID = tenant
	req.TurnID = ""
	return req, true
}

type turnRequest struct {
	SessionID    string `json:"session_id"`
	ScopeID      string `json:"scope_id"`
	UserText     string `json:"user_text"`
	ResponseText string `json:"response_text"`
	Mode         string `json:"mode"`
}

func (s *Server) handleRecordTurn(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return
	}
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserText) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_text is required")
		return
	}
	if req.Mode != "" {
		if _, err := prompt.ParseMode(req.Mode); err != nil {
			s.respondPipelineError(w, err)
			return
		}
	}

	saved, err := s.assistant.RecordTurn(r.Context(), memory.Turn{
		TenantID:     tenant,
		SessionID:    req.SessionID,
		ScopeID:      strings.TrimSpace(req.ScopeID),
		UserText:     req.UserText,
		ResponseText: req.ResponseText,
		Mode:         strings.ToLower(strings.TrimSpace(req.Mode)),
	})
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess, err := s.sessions.Create(tenant, req.UserID, req.ScopeID, req.PageKind)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	s.observeSessions("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		TenantID:        sess.TenantID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		ScopeID:         sess.ScopeID,
		PageKind:        sess.PageKind,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(tenant, id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.observeSessions("ended")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		// Browsers cannot set headers on websocket upgrades.
		tenant = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	}
	if tenant == "" {
		respondError(w, http.StatusBadRequest, "tenant_required", memory.ErrTenantRequired.Error())
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return
	}

	sess, err := s.sessions.Get(tenant, sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", session.ErrEnded.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.runChat(ctx, sess, inbound, outbound); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("chat connection ended with error", "tenant_id", tenant, "session_id", sess.ID, "error", err)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func (s *Server) readTimeout() time.Duration {
	if d := s.sessions.InactivityTimeout(); d > 0 {
		return d
	}
	return 2 * time.Minute
}

func (s *Server) placeholderBase() int {
	if s.cfg.PlaceholderBaseTokens > 0 {
		return s.cfg.PlaceholderBaseTokens
	}
	return assistant.DefaultPlaceholderBaseTokens
}

func (s *Server) observeSessions(event string) {
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.ObserveSessionEvent(event)
}

// respondPipelineError maps caller faults to 400 and everything else to a
// server-side status.
func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err)
	}
	respondError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, memory.ErrTenantRequired):
		return http.StatusBadRequest, "tenant_required"
	case errors.Is(err, history.ErrUnknownModel):
		return http.StatusBadRequest, "unknown_model"
	case errors.Is(err, prompt.ErrUnknownMode):
		return http.StatusBadRequest, "unknown_mode"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "canceled"
	case strings.HasPrefix(llm.ErrorCode(err), "status_"):
		return http.StatusBadGateway, "model_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func tenantFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(TenantHeader))
}

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := tenantFrom(r)
	if tenant == "" {
		respondError(w, http.StatusBadRequest, "tenant_required", memory.ErrTenantRequired.Error())
		return "", false
	}
	return tenant, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantDelta:
		return m.Type, true
	case protocol.AssistantDone:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
