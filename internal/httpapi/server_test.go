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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/resonance/internal/brain"
	"github.com/ent0n29/resonance/internal/companion"
	"github.com/ent0n29/resonance/internal/config"
	"github.com/ent0n29/resonance/internal/lexicon"
	"github.com/ent0n29/resonance/internal/memory"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/protocol"
	"github.com/ent0n29/resonance/internal/signal"
	"github.com/ent0n29/resonance/internal/store"
	"github.com/ent0n29/resonance/internal/strategy"
)

type testServer struct {
	ts    *httptest.Server
	store *store.InMemoryStore
}

func newTestServer(t *testing.T, gen brain.Generator) testServer {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		MaxMessageRunes:          8000,
	}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_httpapi")
	lx := lexicon.Default()
	st := store.NewInMemoryStore()
	orch := companion.New(companion.Deps{
		Lexicon:   lx,
		Store:     st,
		Retriever: memory.NewRetriever(st, lx, memory.Config{}),
		Writer:    memory.NewWriter(st, lx, memory.Config{}),
		Recorder:  signal.NewRecorder(st, lx, signal.Config{Metrics: metrics}),
		Selector:  strategy.NewSelector(st, lx, strategy.Config{}),
		Generator: gen,
	}, companion.Config{Metrics: metrics})

	srv := New(cfg, nil, orch, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testServer{ts: ts, store: st}
}

func (s testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	out := map[string]any{}
	if res.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res.StatusCode, out
}

func TestChatTurn(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	code, body := s.do(t, http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "user-1",
		"message": "I feel really anxious about work today",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "I heard you: I feel really anxious about work today", body["response"])
	assert.Equal(t, "gentle_grounding", body["strategy_used"])
	assert.Equal(t, false, body["memory_used"])
	assert.NotEmpty(t, body["signal_id"])
	assert.NotEmpty(t, body["turn_id"])
}

func TestChatRejectsInvalidInput(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	code, body := s.do(t, http.MethodPost, "/v1/chat", map[string]string{"user_id": "user-1", "message": "   "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", body["code"])
	assert.Equal(t, "message", body["field"])

	code, body = s.do(t, http.MethodPost, "/v1/chat", map[string]string{"message": "hello"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "user_id", body["field"])

	res, err := http.Post(s.ts.URL+"/v1/chat", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestReplyAndFeedback(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	code, turn := s.do(t, http.MethodPost, "/v1/chat", map[string]string{"user_id": "user-1", "message": "I'm so stressed"})
	require.Equal(t, http.StatusOK, code)
	signalID := turn["signal_id"].(string)

	code, body := s.do(t, http.MethodPost, "/v1/chat/reply", map[string]any{"signal_id": "missing", "reply_text": "ok"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Nil(t, body["resonance_score"])

	code, body = s.do(t, http.MethodPost, "/v1/chat/reply", map[string]any{
		"signal_id":       signalID,
		"reply_text":      "I realize that makes sense, I feel a bit better",
		"elapsed_seconds": 30,
	})
	require.Equal(t, http.StatusOK, code, body)
	score, ok := body["resonance_score"].(float64)
	require.True(t, ok)
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)

	code, body = s.do(t, http.MethodPost, "/v1/chat/feedback", map[string]string{"signal_id": signalID, "feedback_type": "amazing"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_feedback", body["code"])

	code, body = s.do(t, http.MethodPost, "/v1/chat/feedback", map[string]string{"signal_id": "missing", "feedback_type": "helpful"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])

	code, body = s.do(t, http.MethodPost, "/v1/chat/feedback", map[string]string{"signal_id": signalID, "feedback_type": "helpful"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, stats := s.do(t, http.MethodGet, "/v1/learning/stats/user-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, stats["signals"])
	assert.EqualValues(t, 1, stats["with_feedback"])
}

func TestDebugPromptHasNoSideEffects(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	code, body := s.do(t, http.MethodPost, "/v1/chat/debug/prompt", map[string]string{"user_id": "user-1", "message": "my boss again"})
	require.Equal(t, http.StatusOK, code)
	prompt := body["prompt"].(string)
	assert.Contains(t, prompt, "--- USER INPUT ---\nmy boss again")

	mems, err := s.store.RecentMemories(t.Context(), "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, mems)
}

func TestSessionCapturesFollowup(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	code, created := s.do(t, http.MethodPost, "/v1/chat/session", map[string]string{"user_id": "user-1", "user_name": "Ada"})
	require.Equal(t, http.StatusCreated, code)
	sessionID := created["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.EqualValues(t, (2 * time.Minute).Milliseconds(), created["inactivity_ttl_ms"])

	code, first := s.do(t, http.MethodPost, "/v1/chat", map[string]string{"session_id": sessionID, "message": "work is crushing me"})
	require.Equal(t, http.StatusOK, code, first)
	assert.Nil(t, first["followup"])

	code, second := s.do(t, http.MethodPost, "/v1/chat", map[string]string{"session_id": sessionID, "message": "thank you, that helps"})
	require.Equal(t, http.StatusOK, code, second)
	followup, ok := second["followup"].(map[string]any)
	require.True(t, ok, second)
	assert.Equal(t, first["signal_id"], followup["signal_id"])
	assert.Equal(t, true, followup["captured"])
	assert.NotNil(t, followup["resonance"])

	code, _ = s.do(t, http.MethodPost, "/v1/chat", map[string]string{"session_id": sessionID, "user_id": "user-2", "message": "hi"})
	assert.Equal(t, http.StatusForbidden, code)

	code, got := s.do(t, http.MethodGet, "/v1/chat/session/"+sessionID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, got["turns"])

	code, _ = s.do(t, http.MethodPost, "/v1/chat/session/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := s.do(t, http.MethodPost, "/v1/chat", map[string]string{"session_id": sessionID, "message": "still there?"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "session_ended", body["code"])

	code, _ = s.do(t, http.MethodPost, "/v1/chat", map[string]string{"session_id": "nope", "message": "hi"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())
	code, body := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["store_mode"])

	code, body = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])

	unconfigured := newTestServer(t, brain.Unconfigured{})
	code, body = unconfigured.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["brain_configured"])

	code, body = unconfigured.do(t, http.MethodPost, "/v1/chat", map[string]string{"user_id": "user-1", "message": "hello"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, companion.Apology, body["response"])
	assert.Equal(t, companion.StrategyFallback, body["strategy_used"])
}

func TestEraseUser(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	code, _ := s.do(t, http.MethodPost, "/v1/chat", map[string]string{"user_id": "user-1", "message": "I miss my dad"})
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodDelete, "/v1/users/user-1", nil)
	assert.Equal(t, http.StatusNoContent, code)

	mems, err := s.store.RecentMemories(t.Context(), "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, mems)

	code, stats := s.do(t, http.MethodGet, "/v1/learning/stats/user-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, stats["signals"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	req, err := http.NewRequest(http.MethodGet, s.ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "req-42", res.Header.Get("X-Request-ID"))
}

func TestChatWebsocket(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/v1/chat/ws?user_id=user-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var opened protocol.SessionOpened
	require.NoError(t, conn.ReadJSON(&opened))
	assert.Equal(t, protocol.TypeSessionOpened, opened.Type)
	assert.Equal(t, "user-1", opened.UserID)
	require.NotEmpty(t, opened.SessionID)

	require.NoError(t, conn.WriteJSON(protocol.ChatMessage{Type: protocol.TypeChatMessage, Message: "I feel lonely tonight"}))
	var first protocol.TurnResult
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, protocol.TypeTurnResult, first.Type)
	assert.Equal(t, "I heard you: I feel lonely tonight", first.Response)
	require.NotEmpty(t, first.SignalID)

	require.NoError(t, conn.WriteJSON(protocol.ChatMessage{Type: protocol.TypeChatMessage, Message: "thanks, I feel better"}))
	var update protocol.ResonanceUpdate
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, protocol.TypeResonance, update.Type)
	assert.Equal(t, first.SignalID, update.SignalID)
	assert.True(t, update.Captured)
	require.NotNil(t, update.Resonance)

	var second protocol.TurnResult
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, protocol.TypeTurnResult, second.Type)

	require.NoError(t, conn.WriteJSON(protocol.ChatFeedback{Type: protocol.TypeChatFeedback, SignalID: second.SignalID, Feedback: "perfect"}))
	var ack protocol.FeedbackAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, protocol.TypeFeedbackAck, ack.Type)
	assert.True(t, ack.Success)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"wat"}`)))
	var errEvent protocol.ErrorEvent
	require.NoError(t, conn.ReadJSON(&errEvent))
	assert.Equal(t, protocol.TypeErrorEvent, errEvent.Type)
	assert.Equal(t, "invalid_client_message", errEvent.Code)
}

func TestChatWebsocketRequiresSessionOrUser(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	res, err := http.Get(s.ts.URL + "/v1/chat/ws")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Get(s.ts.URL + "/v1/chat/ws?session_id=nope")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestLearningReports(t *testing.T) {
	s := newTestServer(t, brain.NewMockGenerator())

	code, body := s.do(t, http.MethodPost, "/v1/learning/reports/user-1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "no_signals", body["code"])

	code, turn := s.do(t, http.MethodPost, "/v1/chat", map[string]string{"user_id": "user-1", "message": "I'm so stressed"})
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPost, "/v1/chat/reply", map[string]any{
		"signal_id":       turn["signal_id"],
		"reply_text":      "thanks, I feel a bit lighter",
		"elapsed_seconds": 20,
	})
	require.Equal(t, http.StatusOK, code)

	code, report := s.do(t, http.MethodPost, "/v1/learning/reports/user-1", nil)
	require.Equal(t, http.StatusCreated, code, report)
	assert.EqualValues(t, 1, report["total_interactions"])
	assert.NotEmpty(t, report["id"])

	code, list := s.do(t, http.MethodGet, "/v1/learning/reports/user-1?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	reports, ok := list["reports"].([]any)
	require.True(t, ok)
	assert.Len(t, reports, 1)

	code, _ = s.do(t, http.MethodGet, "/v1/learning/reports/user-1?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
