package study

import (
	"context"
	"time"
)

type RoleBreakdown struct {
	Waiting        int `json:"waiting"`
	Matched        int `json:"matched"`
	InConversation int `json:"in_conversation"`
	Total          int `json:"total"`
}

// StudyStatus is the researcher ping: who is where right now, and whether
// the counter agrees with the live records.
type StudyStatus struct {
	Mode            Mode                   `json:"study_mode"`
	Counter         RoleCounter            `json:"role_counter"`
	Roles           map[Role]RoleBreakdown `json:"roles"`
	WaitingMismatch bool                   `json:"waiting_mismatch"`
	CounterMismatch bool                   `json:"counter_mismatch"`
	CachedSessions  int                    `json:"cached_sessions"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// Status summarizes in-progress sessions by role and match state.
func (c *Coordinator) Status(ctx context.Context) (*StudyStatus, error) {
	counter, err := c.repo.RoleCounter(ctx)
	if err != nil {
		return nil, err
	}
	live, err := c.repo.ListSessions(ctx, SessionFilter{
		Statuses: []SessionStatus{StatusPreConsent, StatusActive},
	})
	if err != nil {
		return nil, err
	}
	out := &StudyStatus{
		Mode:           c.mode,
		Counter:        counter,
		Roles:          map[Role]RoleBreakdown{RoleInterrogator: {}, RoleWitness: {}},
		CachedSessions: c.cache.len(),
		GeneratedAt:    c.now(),
	}
	waiting := map[Role][]*Session{}
	for i := range live {
		s := &live[i]
		if !s.Role.Assigned() {
			continue
		}
		b := out.Roles[s.Role]
		b.Total++
		switch s.MatchStatus {
		case MatchWaiting:
			b.Waiting++
			waiting[s.Role] = append(waiting[s.Role], s)
		case MatchMatched:
			b.Matched++
			if s.TurnCount() > 0 {
				b.InConversation++
			}
		}
		out.Roles[s.Role] = b
	}
	holding, err := c.repo.ListSessions(ctx, SessionFilter{CounterHeld: true})
	if err != nil {
		return nil, err
	}
	held := RoleCounter{}
	for i := range holding {
		switch holding[i].Role {
		case RoleInterrogator:
			held.Interrogators++
		case RoleWitness:
			held.Witnesses++
		}
	}
	out.WaitingMismatch = missedMatch(waiting[RoleInterrogator], waiting[RoleWitness])
	out.CounterMismatch = held != counter
	return out, nil
}

// missedMatch reports a waiting pair the matchmaker should have paired:
// one from each side that were never partners.
func missedMatch(interrogators, witnesses []*Session) bool {
	for _, i := range interrogators {
		for _, w := range witnesses {
			if !pairedBefore(i, w) {
				return true
			}
		}
	}
	return false
}

// ResearcherData is the full record of one participant for admin review.
type ResearcherData struct {
	Session  *Session             `json:"session,omitempty"`
	Partner  *Session             `json:"partner,omitempty"`
	Dropouts []DroppedParticipant `json:"dropouts"`
}

func (c *Coordinator) ResearcherData(ctx context.Context, id string) (*ResearcherData, error) {
	if id == "" {
		return nil, ErrInvalidRequest
	}
	dropouts, err := c.repo.Dropouts(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &ResearcherData{Dropouts: dropouts}
	sess, err := c.repo.GetSession(ctx, id)
	switch {
	case err == nil:
		out.Session = sess
	case len(dropouts) == 0:
		return nil, err
	default:
		return out, nil
	}
	if sess.MatchedSessionID != "" {
		partner, err := c.repo.GetSession(ctx, sess.MatchedSessionID)
		if err == nil {
			out.Partner = partner
		}
	}
	if out.Dropouts == nil {
		out.Dropouts = []DroppedParticipant{}
	}
	return out, nil
}
