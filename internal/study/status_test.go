package study

import (
	"errors"
	"testing"
	"time"
)

func TestMatchTransitions(t *testing.T) {
	legal := [][2]MatchStatus{
		{MatchPreConsent, MatchUnmatched},
		{MatchUnmatched, MatchWaiting},
		{MatchWaiting, MatchMatched},
		{MatchMatched, MatchWaiting},
		{MatchMatched, MatchOrphaned},
		{MatchPartnerDropped, MatchWaiting},
	}
	for _, tr := range legal {
		if !tr[0].CanTransition(tr[1]) {
			t.Fatalf("%s -> %s should be legal", tr[0], tr[1])
		}
	}
	illegal := [][2]MatchStatus{
		{MatchAbandoned, MatchWaiting},
		{MatchTimedOut, MatchMatched},
		{MatchOrphaned, MatchWaiting},
		{MatchWaiting, MatchPartnerDropped},
		{MatchUnmatched, MatchMatched},
	}
	for _, tr := range illegal {
		if tr[0].CanTransition(tr[1]) {
			t.Fatalf("%s -> %s should be illegal", tr[0], tr[1])
		}
	}
	s := NewSession("p1", "", time.Now())
	s.MatchStatus = MatchAbandoned
	if err := s.TransitionMatch(MatchWaiting); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if err := s.TransitionMatch(MatchAbandoned); err != nil {
		t.Fatalf("self transition: %v", err)
	}
}

func TestSessionTransitions(t *testing.T) {
	s := NewSession("p1", "u1", time.Now())
	if err := s.TransitionStatus(StatusCompleted); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("pre_consent -> completed: %v", err)
	}
	if err := s.TransitionStatus(StatusActive); err != nil {
		t.Fatalf("pre_consent -> active: %v", err)
	}
	if err := s.TransitionStatus(StatusInterrupted); err != nil {
		t.Fatalf("active -> interrupted: %v", err)
	}
	if !s.Status.Terminal() || s.Status.InProgress() {
		t.Fatalf("interrupted should be terminal")
	}
	if err := s.TransitionStatus(StatusActive); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("interrupted -> active: %v", err)
	}
}

func TestParseEnums(t *testing.T) {
	if r, err := ParseRole(" Witness "); err != nil || r != RoleWitness {
		t.Fatalf("ParseRole = %s, %v", r, err)
	}
	if _, err := ParseRole("judge"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("ParseRole(judge) err = %v", err)
	}
	if m, err := ParseMatchStatus(""); err != nil || m != MatchUnmatched {
		t.Fatalf("ParseMatchStatus(\"\") = %s, %v", m, err)
	}
	if _, err := ParseMatchStatus("paired"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("ParseMatchStatus(paired) err = %v", err)
	}
	if _, err := ParseSessionStatus("done"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("ParseSessionStatus(done) err = %v", err)
	}
	if m, err := ParseMode("ai_witness"); err != nil || m != ModeAIWitness {
		t.Fatalf("ParseMode = %s, %v", m, err)
	}
}

func TestRoleWriteOnce(t *testing.T) {
	s := NewSession("p1", "", time.Now())
	if err := s.SetRole(RoleWitness); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := s.SetRole(RoleWitness); err != nil {
		t.Fatalf("same role: %v", err)
	}
	if err := s.SetRole(RoleInterrogator); !errors.Is(err, ErrRoleImmutable) {
		t.Fatalf("expected immutable role, got %v", err)
	}
}

func TestReleaseCounterOnce(t *testing.T) {
	s := NewSession("p1", "", time.Now())
	if s.ReleaseCounter() {
		t.Fatal("unassigned session released a slot")
	}
	s.Role = RoleInterrogator
	if !s.ReleaseCounter() || s.ReleaseCounter() {
		t.Fatal("release should succeed exactly once")
	}
	c := RoleCounter{Interrogators: 0, Witnesses: 1}.Release(RoleInterrogator)
	if c.Interrogators != 0 || c.Witnesses != 1 {
		t.Fatalf("release went negative: %+v", c)
	}
}

func TestUpsertTurn(t *testing.T) {
	s := NewSession("p1", "", time.Now())
	for _, n := range []int{1, 2} {
		if _, err := s.UpsertTurn(Turn{Turn: n, UserText: "x"}); err != nil {
			t.Fatalf("upsert %d: %v", n, err)
		}
	}
	replaced, err := s.UpsertTurn(Turn{Turn: 1, UserText: "retry"})
	if err != nil || !replaced {
		t.Fatalf("retry: replaced=%v err=%v", replaced, err)
	}
	if s.TurnCount() != 2 || s.Conversation[0].UserText != "retry" {
		t.Fatalf("conversation = %+v", s.Conversation)
	}
	if _, err := s.UpsertTurn(Turn{Turn: 0}); !errors.Is(err, ErrInvalidTurn) {
		t.Fatalf("turn 0: %v", err)
	}
}

func TestExpectedSenderAlternates(t *testing.T) {
	s := NewSession("p1", "", time.Now())
	s.FirstMessageSender = RoleInterrogator
	for n, want := range map[int]Role{1: RoleInterrogator, 2: RoleWitness, 3: RoleInterrogator} {
		if got := s.ExpectedSender(n); got != want {
			t.Fatalf("turn %d sender = %s, want %s", n, got, want)
		}
	}
}

func TestSessionCacheHoldsOnlyActive(t *testing.T) {
	c := newSessionCache(time.Minute)
	s := NewSession("p1", "", time.Now())
	c.refresh(s)
	if _, ok := c.get("p1"); ok {
		t.Fatal("pre_consent session cached")
	}
	s.Status = StatusActive
	c.refresh(s)
	got, ok := c.get("p1")
	if !ok {
		t.Fatal("active session not cached")
	}
	got.Persona = "mutated"
	again, _ := c.get("p1")
	if again.Persona == "mutated" {
		t.Fatal("cache returned shared state")
	}
	s.Status = StatusCompleted
	c.refresh(s)
	if c.len() != 0 {
		t.Fatal("completed session left in cache")
	}
}

func TestPendingEventsTake(t *testing.T) {
	p := newPendingEvents(time.Minute)
	p.add("p1", UIEvent{ID: "a"})
	p.add("p1", UIEvent{ID: "b"})
	if got := p.peek("p1"); len(got) != 2 {
		t.Fatalf("peek = %+v", got)
	}
	if got := p.take("p1"); len(got) != 2 || got[1].ID != "b" {
		t.Fatalf("take = %+v", got)
	}
	if got := p.take("p1"); got != nil {
		t.Fatalf("buffer not cleared: %+v", got)
	}
}

func TestExpireWaitSurfacesIllegalTransition(t *testing.T) {
	s := NewSession("p1", "", time.Now())
	s.Role = RoleInterrogator
	s.MatchStatus = MatchWaiting
	s.Status = StatusCompleted
	if err := expireWait(s, ReasonWaitExhausted); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if s.CounterDecremented {
		t.Fatal("slot released despite failed transition")
	}

	p := NewSession("p2", "", time.Now())
	p.Role = RoleWitness
	p.MatchStatus = MatchWaiting
	p.Status = StatusActive
	if err := applyOrphan(p, ScreenPartnerReportedDropout); err != nil {
		t.Fatalf("orphan from waiting: %v", err)
	}
	if p.MatchStatus != MatchAbandoned || p.Status != StatusAbandoned || !p.CounterDecremented {
		t.Fatalf("orphaned partner = %s/%s released=%v", p.MatchStatus, p.Status, p.CounterDecremented)
	}
}
