package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"turing-study/internal/config"
	"turing-study/internal/conversation"
	"turing-study/internal/generation"
	"turing-study/internal/presence"
	"turing-study/internal/store/memory"
	"turing-study/internal/study"

	"github.com/go-chi/chi/v5"
)

const testAdminKey = "admin-secret"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type cannedGenerator struct{}

func (cannedGenerator) Generate(context.Context, string) (generation.Result, error) {
	return generation.Result{Text: "lol not much, you?", Provider: "test"}, nil
}

type testServer struct {
	router *chi.Mux
	clock  *testClock
	repo   *memory.Repository
}

func newTestServer(t *testing.T, mode study.Mode) *testServer {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := memory.New()
	coord, err := study.NewCoordinator(repo, config.StudyConfig{
		Mode:                  string(mode),
		MaxTotalWait:          240 * time.Second,
		ReadDelay:             10 * time.Second,
		ForcedCompletionAfter: 7*time.Minute + 30*time.Second,
		ExcessiveNetworkDelay: 40 * time.Second,
		SessionCacheTTL:       time.Hour,
		SocialStyles:          []string{"WARM"},
		Personas:              []string{"custom_extrovert"},
		Domains:               []string{"general"},
	}, study.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	engine := conversation.NewEngine(coord, cannedGenerator{},
		conversation.NewSampler(config.DelayConfig{
			BaseSeconds: 1.5, PerCharMean: 0.1, PerCharStd: 0.005,
			PerPrevCharMean: 0.015, PerPrevCharStd: 0.001,
			ThinkingShape: 2.5, ThinkingScale: 0.4,
			FirstTurnMinimum: 7 * time.Second, PeerFloor: 5 * time.Second, PeerCeiling: 23 * time.Second,
		}, nil),
		conversation.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	typing := presence.NewTracker(coord, presence.NewMemory(), 3*time.Second)
	router := NewRouter(config.ServerConfig{AdminAPIKey: testAdminKey}, coord, engine, typing, nil)
	return &testServer{router: router, clock: clock, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status=%d want=%d body=%s", w.Code, want, w.Body.String())
	}
	return decodeBody(t, w)
}

func (s *testServer) startParticipant(t *testing.T, id string) string {
	t.Helper()
	res := expectStatus(t, s.do(t, http.MethodPost, "/api/roles", map[string]any{"participant_id": id}), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/"+id+"/initialize", map[string]any{}), http.StatusOK)
	return res["role"].(string)
}

func TestHumanWitnessFlow(t *testing.T) {
	s := newTestServer(t, study.ModeHumanWitness)
	if role := s.startParticipant(t, "i1"); role != string(study.RoleInterrogator) {
		t.Fatalf("i1 role=%s", role)
	}
	if role := s.startParticipant(t, "w1"); role != string(study.RoleWitness) {
		t.Fatalf("w1 role=%s", role)
	}

	res := expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/i1/waiting-room", nil), http.StatusOK)
	if res["matched"] != false {
		t.Fatalf("matched alone: %+v", res)
	}
	s.clock.Advance(5 * time.Second)
	res = expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/w1/waiting-room", nil), http.StatusOK)
	if res["matched"] != true || res["partner_session_id"] != "i1" {
		t.Fatalf("expected pairing: %+v", res)
	}
	res = expectStatus(t, s.do(t, http.MethodGet, "/api/sessions/i1/match", nil), http.StatusOK)
	if res["partner_session_id"] != "w1" || res["chat_allowed"] != false {
		t.Fatalf("match view: %+v", res)
	}

	res = expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/i1/turns", map[string]any{"message": "hi"}), http.StatusConflict)
	if res["error"] != "chat_not_ready" {
		t.Fatalf("expected chat_not_ready: %+v", res)
	}
	s.clock.Advance(10 * time.Second)
	res = expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/i1/turns", map[string]any{"message": "hi there"}), http.StatusOK)
	if res["human_partner"] != true || res["turn"].(float64) != 1 {
		t.Fatalf("turn reply: %+v", res)
	}

	res = expectStatus(t, s.do(t, http.MethodGet, "/api/sessions/w1/partner-message", nil), http.StatusOK)
	if res["status"] != study.PartnerStatusTyping {
		t.Fatalf("expected typing while delayed: %+v", res)
	}
	s.clock.Advance(30 * time.Second)
	res = expectStatus(t, s.do(t, http.MethodGet, "/api/sessions/w1/partner-message", nil), http.StatusOK)
	if res["message_text"] != "hi there" {
		t.Fatalf("expected delivery: %+v", res)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/w1/typing", nil), http.StatusOK)
	res = expectStatus(t, s.do(t, http.MethodGet, "/api/sessions/i1/partner-typing", nil), http.StatusOK)
	if res["is_typing"] != true {
		t.Fatalf("expected partner typing: %+v", res)
	}

	res = expectStatus(t, s.do(t, http.MethodGet, "/api/sessions/w1", nil), http.StatusOK)
	if res["turn_count"].(float64) != 1 || res["matched_session_id"] != "i1" || res["first_message_sender"] != "interrogator" {
		t.Fatalf("session status: %+v", res)
	}

	res = expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/w1/ratings", map[string]any{"binary_choice": "human", "confidence": 0.5}), http.StatusForbidden)
	if res["error"] != "witness_cannot_rate" {
		t.Fatalf("witness rating: %+v", res)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/i1/ratings", map[string]any{"binary_choice": "ai", "confidence": 0.7}), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/i1/network-delay", map[string]any{"turn": 1, "network_delay_seconds": 1.2}), http.StatusOK)

	status := expectStatus(t, s.do(t, http.MethodGet, "/api/status", nil), http.StatusOK)
	roles := status["roles"].(map[string]any)
	if roles["interrogator"].(map[string]any)["in_conversation"].(float64) != 1 {
		t.Fatalf("status breakdown: %+v", status)
	}
}

func TestGeneratedTurn(t *testing.T) {
	s := newTestServer(t, study.ModeAIWitness)
	s.startParticipant(t, "p1")
	res := expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/p1/turns", map[string]any{"message": "sup"}), http.StatusOK)
	if res["ai_response"] != "lol not much, you?" {
		t.Fatalf("reply: %+v", res)
	}
	res = expectStatus(t, s.do(t, http.MethodPost, "/api/sessions/p1/waiting-room", nil), http.StatusBadRequest)
	if res["error"] != "invalid_request" {
		t.Fatalf("waiting room in ai mode: %+v", res)
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, study.ModeAIWitness)
	s.startParticipant(t, "p1")
	cases := []struct {
		path string
		body any
		code string
	}{
		{"/api/roles", map[string]any{}, "invalid_participant_id"},
		{"/api/roles", "{not json", "invalid_json"},
		{"/api/roles", nil, "invalid_json"},
		{"/api/sessions/p1/ratings", map[string]any{"binary_choice": "robot", "confidence": 0.5}, "invalid_binary_choice"},
		{"/api/sessions/p1/ratings", map[string]any{"binary_choice": "ai", "confidence": 1.5}, "invalid_confidence"},
		{"/api/sessions/p1/comments", map[string]any{"phase": "later", "comment": "x"}, "invalid_phase"},
		{"/api/sessions/p1/turns", map[string]any{"message": ""}, "invalid_message"},
		{"/api/sessions/p1/network-delay", map[string]any{"turn": 0}, "invalid_turn"},
		{"/api/timeouts", map[string]any{"participant_id": "p1"}, "invalid_timeout_screen"},
		{"/api/ui-events", map[string]any{"participant_id": "p1"}, "invalid_event"},
	}
	for _, tc := range cases {
		res := expectStatus(t, s.do(t, http.MethodPost, tc.path, tc.body), http.StatusBadRequest)
		if res["error"] != tc.code {
			t.Fatalf("%s: error=%v want %s", tc.path, res["error"], tc.code)
		}
	}

	res := expectStatus(t, s.do(t, http.MethodGet, "/api/sessions/ghost", nil), http.StatusNotFound)
	if res["error"] != "session_not_found" {
		t.Fatalf("unknown session: %+v", res)
	}
}

func TestAbandonmentBeaconAlwaysOK(t *testing.T) {
	s := newTestServer(t, study.ModeHumanWitness)
	s.startParticipant(t, "i1")

	for _, body := range []any{"garbage", map[string]any{}, map[string]any{"session_id": "ghost"}} {
		res := expectStatus(t, s.do(t, http.MethodPost, "/api/abandonment", body, "Content-Type", "text/plain"), http.StatusOK)
		if res["ok"] != false {
			t.Fatalf("beacon %v: %+v", body, res)
		}
	}
	res := expectStatus(t, s.do(t, http.MethodPost, "/api/abandonment", map[string]any{"session_id": "i1", "reason": "tab_closed"}), http.StatusOK)
	if res["ok"] != true {
		t.Fatalf("beacon: %+v", res)
	}
	sess, err := s.repo.GetSession(context.Background(), "i1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != study.StatusAbandoned || !sess.CounterDecremented {
		t.Fatalf("beacon not applied: %+v", sess)
	}
}

func TestPreSessionEventsAndFinalize(t *testing.T) {
	s := newTestServer(t, study.ModeHumanWitness)
	res := expectStatus(t, s.do(t, http.MethodPost, "/api/ui-events", map[string]any{"participant_id": "p9", "event": "consent_viewed"}), http.StatusOK)
	if res["stored"] != study.EventStoredPreSession {
		t.Fatalf("ui event: %+v", res)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/api/finalize-no-session", map[string]any{"participant_id": "p9", "reason": "consent_declined"}), http.StatusOK)

	res = expectStatus(t, s.do(t, http.MethodGet, "/api/admin/sessions/p9", nil, "X-Admin-Key", testAdminKey), http.StatusOK)
	dropouts := res["dropouts"].([]any)
	if len(dropouts) != 1 {
		t.Fatalf("dropouts: %+v", res)
	}
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, study.ModeHumanWitness)
	s.startParticipant(t, "p1")

	res := expectStatus(t, s.do(t, http.MethodGet, "/api/admin/sessions/p1", nil), http.StatusUnauthorized)
	if res["error"] != "unauthorized" {
		t.Fatalf("unauthorized: %+v", res)
	}
	expectStatus(t, s.do(t, http.MethodGet, "/api/admin/sessions/p1", nil, "Authorization", "Bearer wrong"), http.StatusUnauthorized)
	res = expectStatus(t, s.do(t, http.MethodGet, "/api/admin/sessions/p1", nil, "Authorization", "Bearer "+testAdminKey), http.StatusOK)
	if res["session"].(map[string]any)["id"] != "p1" {
		t.Fatalf("researcher data: %+v", res)
	}

	w := s.do(t, http.MethodGet, "/api/admin/debug/vars", nil, "X-Admin-Key", testAdminKey)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "turn_submit_total") {
		t.Fatalf("debug vars status=%d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, study.ModeAIWitness)
	res := expectStatus(t, s.do(t, http.MethodGet, "/healthz", nil), http.StatusOK)
	if res["ok"] != true || res["study_mode"] != string(study.ModeAIWitness) {
		t.Fatalf("health: %+v", res)
	}
}

func TestMapStudyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{study.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
		{study.ErrChatNotReady, http.StatusConflict, "chat_not_ready"},
		{study.ErrWitnessCannotRate, http.StatusForbidden, "witness_cannot_rate"},
		{study.ErrRetryable, http.StatusServiceUnavailable, "retryable"},
		{context.Canceled, http.StatusServiceUnavailable, "request_canceled"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "request_canceled"},
		{errUnknown, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, code := MapStudyError(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("%v -> %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

var errUnknown = jsonErr("boom")

type jsonErr string

func (e jsonErr) Error() string { return string(e) }
