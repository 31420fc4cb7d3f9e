package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/resonance/internal/companion"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/policy"
	"github.com/ent0n29/resonance/internal/session"
	"github.com/ent0n29/resonance/internal/signal"
)

type chatRequest struct {
	companion.TurnInput
	SessionID string `json:"session_id,omitempty"`
}

// followupResult reports the automatic reply capture of a session turn.
type followupResult struct {
	SignalID  string   `json:"signal_id"`
	Resonance *float64 `json:"resonance"`
	Captured  bool     `json:"captured"`
}

type chatResponse struct {
	companion.TurnResult
	SessionID string          `json:"session_id,omitempty"`
	Followup  *followupResult `json:"followup,omitempty"`
}

type replyRequest struct {
	SignalID       string  `json:"signal_id"`
	ReplyText      string  `json:"reply_text"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type feedbackRequest struct {
	SignalID     string `json:"signal_id"`
	FeedbackType string `json:"feedback_type"`
	Details      string `json:"details,omitempty"`
}

var (
	errSessionNotFound = errors.New("session not found")
	errSessionEnded    = errors.New("session ended")
	errSessionOwner    = errors.New("session belongs to another user")
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.companion == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "companion not configured")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.runTurn(r.Context(), strings.TrimSpace(req.SessionID), req.TurnInput)
	switch {
	case errors.Is(err, errSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, errSessionEnded):
		respondError(w, http.StatusConflict, "session_ended", err.Error())
	case errors.Is(err, errSessionOwner):
		respondError(w, http.StatusForbidden, "session_forbidden", err.Error())
	case err != nil:
		respondTurnError(w, err)
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

// runTurn orchestrates one message. Inside a session the message is first
// scored as the reply to the session's previous turn.
func (s *Server) runTurn(ctx context.Context, sessionID string, in companion.TurnInput) (chatResponse, error) {
	var sess *session.Session
	if sessionID != "" {
		got, err := s.sessions.Get(sessionID)
		if err != nil {
			return chatResponse{}, errSessionNotFound
		}
		if in.UserID == "" {
			in.UserID = got.UserID
		}
		if in.UserID != got.UserID {
			return chatResponse{}, errSessionOwner
		}
		if in.AIName == "" {
			in.AIName = got.AIName
		}
		if in.UserName == "" {
			in.UserName = got.UserName
		}
		sess = got
	}
	if err := companion.Validate(in, s.cfg.MaxMessageRunes); err != nil {
		return chatResponse{}, err
	}

	out := chatResponse{}
	if sess != nil {
		out.SessionID = sess.ID
		f, ok, err := s.sessions.TakeFollowup(sess.ID)
		if err != nil {
			if errors.Is(err, session.ErrEnded) {
				return chatResponse{}, errSessionEnded
			}
			return chatResponse{}, errSessionNotFound
		}
		if ok {
			score, captured := s.companion.CaptureReply(ctx, f.SignalID, in.Message, f.ElapsedSeconds)
			out.Followup = &followupResult{SignalID: f.SignalID, Captured: captured}
			if captured {
				out.Followup.Resonance = &score
			}
		}
	}

	res, err := s.companion.Orchestrate(ctx, in)
	if err != nil {
		return chatResponse{}, err
	}
	out.TurnResult = res
	if sess != nil && res.SignalID != "" {
		if err := s.sessions.RecordTurn(sess.ID, res.SignalID); err != nil {
			observability.LoggerFromContext(ctx).Warn("session turn not recorded", "session_id", sess.ID, "error", err)
		}
	}
	return out, nil
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if s.companion == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "companion not configured")
		return
	}
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SignalID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_signal_id", "signal_id is required")
		return
	}
	if req.ElapsedSeconds < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "elapsed_seconds must be >= 0")
		return
	}
	score, ok := s.companion.CaptureReply(r.Context(), req.SignalID, req.ReplyText, req.ElapsedSeconds)
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]any{
			"signal_id":       req.SignalID,
			"resonance_score": nil,
			"code":            "signal_not_found",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"signal_id":       req.SignalID,
		"resonance_score": score,
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.companion == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "companion not configured")
		return
	}
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SignalID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_signal_id", "signal_id is required")
		return
	}
	if err := signal.ValidateFeedback(req.FeedbackType); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_feedback", err.Error())
		return
	}
	if !s.companion.CaptureFeedback(r.Context(), req.SignalID, req.FeedbackType, req.Details) {
		respondJSON(w, http.StatusNotFound, map[string]any{"success": false, "code": "signal_not_found"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDebugPrompt(w http.ResponseWriter, r *http.Request) {
	if s.companion == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "companion not configured")
		return
	}
	var in companion.TurnInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	prompt, err := s.companion.DebugPrompt(r.Context(), in)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) handleLearningStats(w http.ResponseWriter, r *http.Request) {
	if s.companion == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "companion not configured")
		return
	}
	stats, err := s.companion.LearningStats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		var ve *companion.ValidationError
		if errors.As(err, &ve) {
			respondTurnError(w, err)
			return
		}
		observability.LoggerFromContext(r.Context()).Warn("learning stats unavailable", "error", err)
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "learning stats unavailable")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	if s.companion == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "companion not configured")
		return
	}
	report, err := s.companion.Report(r.Context(), chi.URLParam(r, "userID"), time.Time{})
	if err != nil {
		var ve *companion.ValidationError
		switch {
		case errors.As(err, &ve):
			respondTurnError(w, err)
		case errors.Is(err, companion.ErrNoSignals):
			respondError(w, http.StatusNotFound, "no_signals", "no interactions in the last week")
		default:
			observability.LoggerFromContext(r.Context()).Warn("learning report failed", "error", err)
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", "learning report unavailable")
		}
		return
	}
	respondJSON(w, http.StatusCreated, report)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.companion == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "companion not configured")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = n
	}
	reports, err := s.companion.Reports(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		var ve *companion.ValidationError
		if errors.As(err, &ve) {
			respondTurnError(w, err)
			return
		}
		observability.LoggerFromContext(r.Context()).Warn("learning reports unavailable", "error", err)
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "learning reports unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (s *Server) handleEraseUser(w http.ResponseWriter, r *http.Request) {
	if s.companion == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "companion not configured")
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := s.companion.EraseUser(r.Context(), userID); err != nil {
		var ve *companion.ValidationError
		if errors.As(err, &ve) {
			respondTurnError(w, err)
			return
		}
		observability.LoggerFromContext(r.Context()).Error("erase user failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "erase failed")
		return
	}
	if n := s.sessions.EndUser(userID); n > 0 {
		s.metrics.ObserveSession("erased", s.sessions.ActiveCount())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := policy.CheckTurnInput(req.UserID, "-", 0); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	sess := s.sessions.Create(req.UserID, req.AIName, req.UserName)
	s.metrics.ObserveSession("created", s.sessions.ActiveCount())

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		AIName:          sess.AIName,
		UserName:        sess.UserName,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ObserveSession("ended", s.sessions.ActiveCount())
	respondJSON(w, http.StatusOK, sess)
}
