// Package storetest holds behaviour checks shared by every study.Repository.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"turing-study/internal/study"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func balanced(c study.RoleCounter) study.Role {
	if c.Interrogators <= c.Witnesses {
		return study.RoleInterrogator
	}
	return study.RoleWitness
}

func assign(t *testing.T, repo study.Repository, id string) *study.Session {
	t.Helper()
	s, _, err := repo.AssignRole(context.Background(), study.AssignRoleParams{
		SessionID: id, Now: base, Counted: true, Pick: balanced,
	})
	if err != nil {
		t.Fatalf("assign %s: %v", id, err)
	}
	return s
}

// Run exercises repo through the contract the coordinator relies on.
// newRepo must return an empty repository for every call.
func Run(t *testing.T, newRepo func(t *testing.T) study.Repository) {
	t.Run("AssignRoleKeepsInProgressRole", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		first := assign(t, repo, "p1")
		again, existing, err := repo.AssignRole(ctx, study.AssignRoleParams{
			SessionID: "p1", Now: base.Add(time.Minute), Counted: true,
			Pick: func(study.RoleCounter) study.Role { return study.RoleWitness },
		})
		if err != nil {
			t.Fatalf("assign again: %v", err)
		}
		if !existing || again.Role != first.Role {
			t.Fatalf("role changed: first=%s again=%s existing=%v", first.Role, again.Role, existing)
		}
		c, err := repo.RoleCounter(ctx)
		if err != nil {
			t.Fatalf("counter: %v", err)
		}
		if c.Total() != 1 {
			t.Fatalf("counter incremented twice: %+v", c)
		}
	})

	t.Run("AssignRoleBalances", func(t *testing.T) {
		repo := newRepo(t)
		roles := map[study.Role]int{}
		for _, id := range []string{"a", "b", "c", "d"} {
			roles[assign(t, repo, id).Role]++
		}
		if roles[study.RoleInterrogator] != 2 || roles[study.RoleWitness] != 2 {
			t.Fatalf("unbalanced: %+v", roles)
		}
	})

	t.Run("AssignRoleUncounted", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		s, _, err := repo.AssignRole(ctx, study.AssignRoleParams{
			SessionID: "ai-1", Now: base,
			Pick: func(study.RoleCounter) study.Role { return study.RoleInterrogator },
		})
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if !s.CounterDecremented {
			t.Fatal("uncounted record should not hold a slot")
		}
		c, _ := repo.RoleCounter(ctx)
		if c.Total() != 0 {
			t.Fatalf("counter touched: %+v", c)
		}
	})

	t.Run("ConcurrentAssignSameID", func(t *testing.T) {
		repo := newRepo(t)
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := repo.AssignRole(context.Background(), study.AssignRoleParams{
					SessionID: "same", Now: base, Counted: true, Pick: balanced,
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent assign: %v", err)
			}
		}
		c, err := repo.RoleCounter(context.Background())
		if err != nil {
			t.Fatalf("counter: %v", err)
		}
		if c.Total() != 1 {
			t.Fatalf("expected one slot, got %+v", c)
		}
	})

	t.Run("ReleaseIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		s := assign(t, repo, "p1")
		for i := 0; i < 3; i++ {
			if _, err := repo.UpdateSession(ctx, s.ID, func(x *study.Session) error {
				x.ReleaseCounter()
				return nil
			}); err != nil {
				t.Fatalf("release: %v", err)
			}
		}
		c, _ := repo.RoleCounter(ctx)
		if c.Total() != 0 {
			t.Fatalf("expected empty counter, got %+v", c)
		}
		got, _ := repo.GetSession(ctx, s.ID)
		if !got.CounterDecremented {
			t.Fatal("flag not persisted")
		}
	})

	t.Run("UpdateAbortsOnError", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		s := assign(t, repo, "p1")
		boom := errors.New("boom")
		_, err := repo.UpdateSession(ctx, s.ID, func(x *study.Session) error {
			x.ReleaseCounter()
			x.Persona = "changed"
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		got, _ := repo.GetSession(ctx, s.ID)
		if got.Persona == "changed" || got.CounterDecremented {
			t.Fatalf("aborted write persisted: %+v", got)
		}
		c, _ := repo.RoleCounter(ctx)
		if c.Total() != 1 {
			t.Fatalf("counter changed: %+v", c)
		}
	})

	t.Run("MissingSession", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.GetSession(context.Background(), "nope"); !errors.Is(err, study.ErrSessionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		_, err := repo.UpdateSession(context.Background(), "nope", func(*study.Session) error { return nil })
		if !errors.Is(err, study.ErrSessionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("UpdatePairWritesBoth", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		a := assign(t, repo, "a")
		b := assign(t, repo, "b")
		now := base.Add(time.Minute)
		gotA, gotB, err := repo.UpdatePair(ctx, b.ID, a.ID, func(x, y *study.Session) error {
			x.MatchedSessionID, y.MatchedSessionID = y.ID, x.ID
			x.MatchedAt, y.MatchedAt = &now, &now
			x.Conversation = append(x.Conversation, study.Turn{Turn: 1, UserText: "hi", SentAt: now})
			return nil
		})
		if err != nil {
			t.Fatalf("update pair: %v", err)
		}
		if gotA.ID != b.ID || gotB.ID != a.ID {
			t.Fatal("pair order not preserved")
		}
		reA, _ := repo.GetSession(ctx, a.ID)
		reB, _ := repo.GetSession(ctx, b.ID)
		if reA.MatchedSessionID != b.ID || reB.MatchedSessionID != a.ID {
			t.Fatalf("asymmetric: %s %s", reA.MatchedSessionID, reB.MatchedSessionID)
		}
		if reB.TurnCount() != 1 || reB.Conversation[0].UserText != "hi" {
			t.Fatalf("conversation not stored: %+v", reB.Conversation)
		}
		if _, _, err := repo.UpdatePair(ctx, a.ID, a.ID, func(_, _ *study.Session) error { return nil }); !errors.Is(err, study.ErrInvalidRequest) {
			t.Fatalf("expected invalid request, got %v", err)
		}
	})

	t.Run("OldestWaiting", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		if s, err := repo.OldestWaiting(ctx, study.RoleWitness); err != nil || s != nil {
			t.Fatalf("expected nothing, got %v %v", s, err)
		}
		var witnesses []string
		for _, id := range []string{"w1", "w2", "w3", "w4", "w5", "w6"} {
			if s := assign(t, repo, id); s.Role == study.RoleWitness {
				witnesses = append(witnesses, s.ID)
			}
		}
		for i, id := range witnesses {
			at := base.Add(time.Duration(len(witnesses)-i) * time.Second)
			if _, err := repo.UpdateSession(ctx, id, func(s *study.Session) error {
				s.MatchStatus = study.MatchWaiting
				s.WaitingRoomEnteredAt = &at
				return nil
			}); err != nil {
				t.Fatalf("wait: %v", err)
			}
		}
		got, err := repo.OldestWaiting(ctx, study.RoleWitness)
		if err != nil || got == nil {
			t.Fatalf("oldest: %v %v", got, err)
		}
		if got.ID != witnesses[len(witnesses)-1] {
			t.Fatalf("expected %s, got %s", witnesses[len(witnesses)-1], got.ID)
		}
	})

	t.Run("ListSessionsFilters", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		old := base.Add(-10 * time.Minute)
		for _, id := range []string{"x1", "x2", "x3"} {
			assign(t, repo, id)
		}
		if _, err := repo.UpdateSession(ctx, "x1", func(s *study.Session) error {
			s.MatchStatus = study.MatchMatched
			s.MatchedAt = &old
			s.Status = study.StatusActive
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		cutoff := base.Add(-time.Minute)
		got, err := repo.ListSessions(ctx, study.SessionFilter{
			MatchStatuses: []study.MatchStatus{study.MatchMatched},
			MatchedBefore: &cutoff,
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 1 || got[0].ID != "x1" {
			t.Fatalf("unexpected list: %+v", got)
		}
		got, err = repo.ListSessions(ctx, study.SessionFilter{
			ExcludeStatuses: []study.SessionStatus{study.StatusActive},
			Limit:           1,
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 1 || got[0].ID != "x2" {
			t.Fatalf("unexpected list: %+v", got)
		}
	})

	t.Run("CounterHeldFilter", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		for _, id := range []string{"h1", "h2", "h3"} {
			assign(t, repo, id)
		}
		if _, err := repo.UpdateSession(ctx, "h1", func(s *study.Session) error {
			s.Status = study.StatusCompleted
			return nil
		}); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if _, err := repo.UpdateSession(ctx, "h2", func(s *study.Session) error {
			s.Status = study.StatusAbandoned
			s.ReleaseCounter()
			return nil
		}); err != nil {
			t.Fatalf("release: %v", err)
		}
		got, err := repo.ListSessions(ctx, study.SessionFilter{CounterHeld: true})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		ids := map[string]bool{}
		for _, s := range got {
			ids[s.ID] = true
		}
		if len(got) != 2 || !ids["h1"] || !ids["h3"] {
			t.Fatalf("unexpected held sessions: %+v", ids)
		}
	})

	t.Run("PreviousPartnerPersists", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		s := assign(t, repo, "p1")
		if _, err := repo.UpdateSession(ctx, s.ID, func(x *study.Session) error {
			x.PreviousPartnerID = "p2"
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := repo.GetSession(ctx, s.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.PreviousPartnerID != "p2" {
			t.Fatalf("previous partner = %q", got.PreviousPartnerID)
		}
	})

	t.Run("RecordDropout", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.RecordDropout(context.Background(), study.DroppedParticipant{
			ParticipantID: "p9",
			Reason:        "abandoned",
			UIEvents:      []study.UIEvent{{ID: "e1", Event: "consent_agree_clicked", ServerTS: base}},
			CreatedAt:     base,
		})
		if err != nil {
			t.Fatalf("record dropout: %v", err)
		}
		got, err := repo.Dropouts(context.Background(), "p9")
		if err != nil {
			t.Fatalf("dropouts: %v", err)
		}
		if len(got) != 1 || got[0].ID == "" || got[0].Reason != "abandoned" {
			t.Fatalf("unexpected dropouts: %+v", got)
		}
	})
}
