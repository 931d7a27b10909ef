package study_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"turing-study/internal/config"
	"turing-study/internal/store/memory"
	"turing-study/internal/study"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testStudyConfig(mode study.Mode) config.StudyConfig {
	return config.StudyConfig{
		Mode:                  string(mode),
		MaxTotalWait:          240 * time.Second,
		ReadDelay:             10 * time.Second,
		JanitorInterval:       time.Minute,
		MatchedGrace:          2 * time.Minute,
		WaitingGrace:          2 * time.Minute,
		PreConsentGrace:       3 * time.Minute,
		ForcedCompletionAfter: 7*time.Minute + 30*time.Second,
		ExcessiveNetworkDelay: 40 * time.Second,
		TypingWindow:          3 * time.Second,
		SessionCacheTTL:       time.Hour,
		SocialStyles:          []string{"WARM", "DIRECT"},
		Personas:              []string{"custom_extrovert"},
		Domains:               []string{"general"},
	}
}

type harness struct {
	coord *study.Coordinator
	repo  *memory.Repository
	clock *fakeClock
	cfg   config.StudyConfig
}

func newHarness(t *testing.T, mode study.Mode) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testStudyConfig(mode))
}

func newHarnessWithConfig(t *testing.T, cfg config.StudyConfig) *harness {
	t.Helper()
	h := &harness{repo: memory.New(), clock: &fakeClock{now: t0}, cfg: cfg}
	h.coord = h.restart(t)
	return h
}

// restart builds a fresh coordinator over the same repository, as a new
// process would.
func (h *harness) restart(t *testing.T) *study.Coordinator {
	t.Helper()
	coord, err := study.NewCoordinator(h.repo, h.cfg,
		study.WithClock(h.clock.Now),
		study.WithRand(rand.New(rand.NewSource(1))),
	)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return coord
}

// start assigns a role and initializes the session.
func (h *harness) start(t *testing.T, id string) study.Role {
	t.Helper()
	ctx := context.Background()
	a, err := h.coord.AssignRole(ctx, study.AssignRoleRequest{ParticipantID: id})
	if err != nil {
		t.Fatalf("assign %s: %v", id, err)
	}
	if _, err := h.coord.Initialize(ctx, id, study.InitializeRequest{}); err != nil {
		t.Fatalf("initialize %s: %v", id, err)
	}
	return a.Role
}

func (h *harness) join(t *testing.T, id string) *study.MatchView {
	t.Helper()
	v, err := h.coord.JoinWaitingRoom(context.Background(), id)
	if err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return v
}

func (h *harness) session(t *testing.T, id string) *study.Session {
	t.Helper()
	s, err := h.repo.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return s
}

func (h *harness) counter(t *testing.T) study.RoleCounter {
	t.Helper()
	c, err := h.repo.RoleCounter(context.Background())
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	return c
}

// matchPair starts an interrogator and a witness, queues both five seconds
// apart and returns their ids once paired.
func (h *harness) matchPair(t *testing.T) (interrogator, witness string) {
	t.Helper()
	if r := h.start(t, "i1"); r != study.RoleInterrogator {
		t.Fatalf("i1 got %s", r)
	}
	if r := h.start(t, "w1"); r != study.RoleWitness {
		t.Fatalf("w1 got %s", r)
	}
	h.join(t, "i1")
	h.clock.Advance(5 * time.Second)
	if v := h.join(t, "w1"); !v.Matched {
		t.Fatalf("expected match on join, got %+v", v)
	}
	return "i1", "w1"
}
