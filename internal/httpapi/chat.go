package httpapi

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/complyassist/internal/assistant"
	"github.com/ent0n29/complyassist/internal/history"
	"github.com/ent0n29/complyassist/internal/prompt"
	"github.com/ent0n29/complyassist/internal/protocol"
	"github.com/ent0n29/complyassist/internal/session"
)

// runChat serves one websocket connection. Turns run one at a time so a
// client_control cancel can interrupt the turn in flight.
func (s *Server) runChat(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	var (
		turnCancel context.CancelFunc
		turnDone   chan struct{}
	)
	busy := func() bool {
		if turnDone == nil {
			return false
		}
		select {
		case <-turnDone:
			return false
		default:
			return true
		}
	}
	stop := func() {
		if turnCancel != nil {
			turnCancel()
		}
		if turnDone != nil {
			<-turnDone
		}
	}

	s.emit(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sess.ID,
		Code:      "session_ready",
	})

	for {
		select {
		case <-ctx.Done():
			stop()
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				stop()
				return nil
			}
			switch m := msg.(type) {
			case protocol.UserMessage:
				if m.SessionID != sess.ID {
					s.emitError(ctx, outbound, sess.ID, "session_mismatch", "message session_id does not match the connection", false)
					continue
				}
				if busy() {
					s.emitError(ctx, outbound, sess.ID, "turn_in_flight", "wait for assistant_done or cancel the current turn", true)
					continue
				}
				turnID := uuid.NewString()
				if err := s.sessions.StartTurn(sess.TenantID, sess.ID, turnID); err != nil {
					s.emitError(ctx, outbound, sess.ID, "session_ended", err.Error(), false)
					continue
				}
				tctx, cancel := context.WithCancel(ctx)
				done := make(chan struct{})
				turnCancel, turnDone = cancel, done
				go func() {
					defer close(done)
					defer cancel()
					s.runTurn(tctx, sess, m, turnID, outbound)
				}()
			case protocol.ClientControl:
				switch strings.ToLower(strings.TrimSpace(m.Action)) {
				case protocol.ActionCancel:
					if busy() {
						turnCancel()
					}
				case protocol.ActionPing:
					s.emit(ctx, outbound, protocol.SystemEvent{
						Type:      protocol.TypeSystemEvent,
						SessionID: sess.ID,
						Code:      "pong",
					})
				default:
					s.emitError(ctx, outbound, sess.ID, "unsupported_action", m.Action, false)
				}
			}
		}
	}
}

func (s *Server) runTurn(ctx context.Context, sess *session.Session, msg protocol.UserMessage, turnID string, outbound chan<- any) {
	req := assistant.Request{
		TenantID:  sess.TenantID,
		TurnID:    turnID,
		SessionID: sess.ID,
		ScopeID:   firstNonEmpty(msg.ScopeID, sess.ScopeID),
		PageKind:  firstNonEmpty(msg.PageKind, sess.PageKind),
		Mode:      prompt.Mode(strings.ToLower(strings.TrimSpace(msg.Mode))),
		Model:     msg.Model,
		UserText:  msg.Text,
	}

	reply, err := s.assistant.Respond(ctx, req, func(delta string) error {
		return s.send(ctx, outbound, protocol.AssistantDelta{
			Type:      protocol.TypeAssistantDelta,
			SessionID: sess.ID,
			TurnID:    turnID,
			TextDelta: delta,
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = s.sessions.Interrupt(sess.TenantID, sess.ID)
			// The turn context is gone, so this send must not block.
			select {
			case outbound <- protocol.AssistantDone{
				Type:      protocol.TypeAssistantDone,
				SessionID: sess.ID,
				TurnID:    turnID,
				Reason:    "canceled",
			}:
			default:
			}
			return
		}
		_ = s.sessions.FinishTurn(sess.TenantID, sess.ID)
		status, code := errorStatus(err)
		s.emitError(ctx, outbound, sess.ID, code, err.Error(), status >= 500)
		s.emit(ctx, outbound, protocol.AssistantDone{
			Type:      protocol.TypeAssistantDone,
			SessionID: sess.ID,
			TurnID:    turnID,
			Reason:    "error",
		})
		return
	}

	_ = s.sessions.FinishTurn(sess.TenantID, sess.ID)
	s.emit(ctx, outbound, protocol.AssistantDone{
		Type:          protocol.TypeAssistantDone,
		SessionID:     sess.ID,
		TurnID:        reply.TurnID,
		Text:          reply.Text,
		Mode:          string(reply.Prompt.Mode),
		HistoryTokens: history.EstimateTokens(reply.Prompt.HistoryText),
		Reason:        "completed",
	})
}

func (s *Server) send(ctx context.Context, outbound chan<- any, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case outbound <- msg:
		return nil
	}
}

func (s *Server) emit(ctx context.Context, outbound chan<- any, msg any) {
	_ = s.send(ctx, outbound, msg)
}

func (s *Server) emitError(ctx context.Context, outbound chan<- any, sessionID, code, detail string, retryable bool) {
	s.emit(ctx, outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "assistant",
		Retryable: retryable,
		Detail:    detail,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
