package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/resonance/internal/companion"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/protocol"
	"github.com/ent0n29/resonance/internal/session"
	"github.com/ent0n29/resonance/internal/signal"
)

const (
	wsReadLimit    = 2 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 64
)

// handleChatWS serves a conversation over a websocket. The connection joins
// an existing session via session_id or opens a new one for user_id.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.companion == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "companion not configured")
		return
	}
	q := r.URL.Query()
	sessionID := strings.TrimSpace(q.Get("session_id"))
	userID := strings.TrimSpace(q.Get("user_id"))

	var sess *session.Session
	switch {
	case sessionID != "":
		got, err := s.sessions.Get(sessionID)
		if err != nil {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		if got.Status == session.StatusEnded {
			respondError(w, http.StatusConflict, "session_ended", "session ended")
			return
		}
		sess = got
	case userID != "":
		if err := companion.Validate(companion.TurnInput{UserID: userID, Message: "-"}, 0); err != nil {
			respondTurnError(w, err)
			return
		}
		sess = s.sessions.Create(userID, q.Get("ai_name"), q.Get("user_name"))
		s.metrics.ObserveSession("created", s.sessions.ActiveCount())
	default:
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id or user_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSession("ws_connected", s.sessions.ActiveCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, wsQueueSize)
	outbound := make(chan any, wsQueueSize)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer close(outbound)
		s.runConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				// Drain so the runner never blocks on a dead socket.
				for range outbound {
				}
				return
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}()

	outbound <- protocol.SessionOpened{
		Type:      protocol.TypeSessionOpened,
		SessionID: sess.ID,
		UserID:    sess.UserID,
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			parsed = protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			}
		} else if t, ok := protocol.TypeOf(parsed); ok {
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
	s.metrics.ObserveSession("ws_disconnected", s.sessions.ActiveCount())
}

// runConnection handles inbound frames one at a time so turns of a session
// never interleave. Parse failures arrive as ready-made error events.
func (s *Server) runConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) {
	send := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}
	log := observability.LoggerFromContext(ctx).With("session_id", sess.ID)

	for msg := range inbound {
		if ctx.Err() != nil {
			continue
		}
		switch m := msg.(type) {
		case protocol.ErrorEvent:
			send(m)
		case protocol.ChatMessage:
			res, err := s.runTurn(ctx, sess.ID, companion.TurnInput{
				UserID:   sess.UserID,
				Message:  m.Message,
				AIName:   m.AIName,
				UserName: m.UserName,
			})
			if err != nil {
				send(s.wsError(sess.ID, err))
				continue
			}
			if f := res.Followup; f != nil {
				send(protocol.ResonanceUpdate{
					Type:      protocol.TypeResonance,
					SessionID: sess.ID,
					SignalID:  f.SignalID,
					Resonance: f.Resonance,
					Captured:  f.Captured,
				})
			}
			send(protocol.TurnResult{
				Type:         protocol.TypeTurnResult,
				SessionID:    sess.ID,
				TurnID:       res.TurnID,
				Response:     res.Response,
				SignalID:     res.SignalID,
				StrategyUsed: res.StrategyUsed,
				Confidence:   res.Confidence,
				MemoryUsed:   res.MemoryUsed,
			})
		case protocol.ChatReply:
			update := protocol.ResonanceUpdate{
				Type:      protocol.TypeResonance,
				SessionID: sess.ID,
				SignalID:  m.SignalID,
			}
			if score, ok := s.companion.CaptureReply(ctx, m.SignalID, m.Text, m.ElapsedSeconds); ok {
				update.Resonance = &score
				update.Captured = true
			}
			send(update)
		case protocol.ChatFeedback:
			if err := signal.ValidateFeedback(m.Feedback); err != nil {
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sess.ID,
					Code:      "invalid_feedback",
					Source:    "gateway",
					Detail:    err.Error(),
				})
				continue
			}
			send(protocol.FeedbackAck{
				Type:      protocol.TypeFeedbackAck,
				SessionID: sess.ID,
				SignalID:  m.SignalID,
				Success:   s.companion.CaptureFeedback(ctx, m.SignalID, m.Feedback, m.Details),
			})
		default:
			log.Warn("unhandled websocket message", "type", msg)
		}
	}
}

func (s *Server) wsError(sessionID string, err error) protocol.ErrorEvent {
	ev := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "internal",
		Source:    "companion",
		Detail:    err.Error(),
	}
	var ve *companion.ValidationError
	switch {
	case errors.As(err, &ve):
		ev.Code = "invalid_input"
	case errors.Is(err, errSessionEnded):
		ev.Code = "session_ended"
		ev.Source = "session"
	case errors.Is(err, errSessionNotFound):
		ev.Code = "session_not_found"
		ev.Source = "session"
	default:
		ev.Retryable = true
	}
	return ev
}
