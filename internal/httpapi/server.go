package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/resonance/internal/companion"
	"github.com/ent0n29/resonance/internal/config"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/session"
	"github.com/ent0n29/resonance/internal/store"
)

// Companion is the orchestration surface the routes drive.
type Companion interface {
	Orchestrate(ctx context.Context, in companion.TurnInput) (companion.TurnResult, error)
	DebugPrompt(ctx context.Context, in companion.TurnInput) (string, error)
	CaptureReply(ctx context.Context, signalID, reply string, elapsedSeconds float64) (float64, bool)
	CaptureFeedback(ctx context.Context, signalID, label, details string) bool
	LearningStats(ctx context.Context, userID string) (companion.Stats, error)
	EraseUser(ctx context.Context, userID string) error
	Report(ctx context.Context, userID string, since time.Time) (store.LearningReport, error)
	Reports(ctx context.Context, userID string, limit int) ([]store.LearningReport, error)
	Healthy() companion.Health
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	companion Companion
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, c Companion, metrics *observability.Metrics) *Server {
	if sessions == nil {
		sessions = session.NewManager(cfg.SessionInactivityTimeout)
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		companion: c,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin.
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
	r.Use(requestID)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/chat/reply", s.handleReply)
	r.Post("/v1/chat/feedback", s.handleFeedback)
	r.Post("/v1/chat/debug/prompt", s.handleDebugPrompt)
	r.Post("/v1/chat/session", s.handleCreateSession)
	r.Get("/v1/chat/session/{id}", s.handleGetSession)
	r.Post("/v1/chat/session/{id}/end", s.handleEndSession)
	r.Get("/v1/chat/ws", s.handleChatWS)

	r.Get("/v1/learning/stats/{userID}", s.handleLearningStats)
	r.Get("/v1/learning/reports/{userID}", s.handleListReports)
	r.Post("/v1/learning/reports/{userID}", s.handleCreateReport)
	r.Delete("/v1/users/{userID}", s.handleEraseUser)

	return r
}

func (s *Server) health() map[string]any {
	h := companion.Health{StoreMode: "none"}
	if s.companion != nil {
		h = s.companion.Healthy()
	}
	return map[string]any{
		"brain_configured": h.BrainConfigured,
		"store_mode":       h.StoreMode,
		"pending_signals":  h.PendingSignals,
		"active_sessions":  s.sessions.ActiveCount(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := s.health()
	body["status"] = "ok"
	respondJSON(w, http.StatusOK, body)
}

// handleReady reports not ready while no generative service is configured,
// since every turn would then get the static apology.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	body := s.health()
	if configured, _ := body["brain_configured"].(bool); !configured {
		body["status"] = "degraded"
		respondJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ready"
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
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

// respondTurnError maps orchestrator errors to responses. Only validation
// failures are expected here.
func respondTurnError(w http.ResponseWriter, err error) {
	var ve *companion.ValidationError
	if errors.As(err, &ve) {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error(), Code: "invalid_input", Field: ve.Field})
		return
	}
	respondError(w, http.StatusInternalServerError, "internal", "request failed")
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}
