package study

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

type MatchInfo struct {
	InterrogatorID     string    `json:"interrogator_session_id"`
	WitnessID          string    `json:"witness_session_id"`
	FirstMessageSender Role      `json:"first_message_sender"`
	MatchedAt          time.Time `json:"matched_at"`
	ProceedToChatAt    time.Time `json:"proceed_to_chat_at"`
}

var errCandidateGone = errors.New("match candidate no longer waiting")

// AttemptMatch pairs the oldest waiting interrogator with the oldest waiting
// witness. It returns nil when either side is empty and is safe to call
// speculatively after any state change. Candidates whose cumulative wait
// reached MaxTotalWait are timed out instead and the search starts over.
func (c *Coordinator) AttemptMatch(ctx context.Context) (*MatchInfo, error) {
	c.matchMu.Lock()
	defer c.matchMu.Unlock()

	for {
		info, expired, err := c.matchOnce(ctx)
		if err != nil || len(expired) == 0 {
			return info, err
		}
		for _, id := range expired {
			metricTimeoutTotal.Add(1)
			log.Info().Str("session_id", id).Str("reason", ReasonWaitExhausted).Msg("wait exhausted before match")
		}
	}
}

func (c *Coordinator) matchOnce(ctx context.Context) (*MatchInfo, []string, error) {
	interrogator, witness, err := c.candidates(ctx)
	if err != nil || interrogator == nil || witness == nil {
		return nil, nil, err
	}

	now := c.now()
	info := &MatchInfo{
		InterrogatorID:     interrogator.ID,
		WitnessID:          witness.ID,
		FirstMessageSender: RoleInterrogator,
		MatchedAt:          now,
	}
	var expired []string
	_, _, err = c.updatePair(ctx, interrogator.ID, witness.ID, func(i, w *Session) error {
		expired = expired[:0]
		for _, s := range []*Session{i, w} {
			if s.MatchStatus != MatchWaiting || s.Status == StatusAbandoned {
				return errCandidateGone
			}
		}
		for _, s := range []*Session{i, w} {
			if !c.waitExhausted(s, now) {
				continue
			}
			if err := expireWait(s, ReasonWaitExhausted); err != nil {
				return err
			}
			expired = append(expired, s.ID)
		}
		if len(expired) > 0 {
			return nil
		}
		info.ProceedToChatAt = later(i.WaitingRoomEnteredAt, w.WaitingRoomEnteredAt, now).Add(c.cfg.ReadDelay)
		bind := func(s *Session, partnerID string) error {
			if err := s.TransitionMatch(MatchMatched); err != nil {
				return err
			}
			matchedAt, proceed := info.MatchedAt, info.ProceedToChatAt
			s.MatchedSessionID = partnerID
			s.FirstMessageSender = info.FirstMessageSender
			s.MatchedAt = &matchedAt
			s.ProceedToChatAt = &proceed
			return nil
		}
		if err := bind(i, w.ID); err != nil {
			return err
		}
		return bind(w, i.ID)
	})
	if errors.Is(err, errCandidateGone) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if len(expired) > 0 {
		return nil, expired, nil
	}
	metricMatchTotal.Add(1)
	log.Info().
		Str("interrogator_session_id", info.InterrogatorID).
		Str("witness_session_id", info.WitnessID).
		Time("proceed_to_chat_at", info.ProceedToChatAt).
		Msg("match created")
	return info, nil, nil
}

// candidates picks the oldest waiting pair. When those two were just split
// up, the waiting room is scanned for the oldest pairing new to both.
func (c *Coordinator) candidates(ctx context.Context) (*Session, *Session, error) {
	interrogator, err := c.repo.OldestWaiting(ctx, RoleInterrogator)
	if err != nil {
		return nil, nil, err
	}
	witness, err := c.repo.OldestWaiting(ctx, RoleWitness)
	if err != nil {
		return nil, nil, err
	}
	if interrogator == nil || witness == nil {
		return nil, nil, nil
	}
	if !pairedBefore(interrogator, witness) {
		return interrogator, witness, nil
	}

	waiting, err := c.repo.ListSessions(ctx, SessionFilter{
		MatchStatuses:   []MatchStatus{MatchWaiting},
		ExcludeStatuses: []SessionStatus{StatusAbandoned},
	})
	if err != nil {
		return nil, nil, err
	}
	sort.SliceStable(waiting, func(a, b int) bool {
		return EnteredBefore(&waiting[a], &waiting[b])
	})
	for i := range waiting {
		if waiting[i].Role != RoleInterrogator {
			continue
		}
		for w := range waiting {
			if waiting[w].Role == RoleWitness && !pairedBefore(&waiting[i], &waiting[w]) {
				return &waiting[i], &waiting[w], nil
			}
		}
	}
	return nil, nil, nil
}

func pairedBefore(a, b *Session) bool {
	return a.PreviousPartnerID == b.ID || b.PreviousPartnerID == a.ID
}

// EnteredBefore orders by waiting room entry, unset entries last, then by id.
func EnteredBefore(a, b *Session) bool {
	switch {
	case a.WaitingRoomEnteredAt == nil && b.WaitingRoomEnteredAt == nil:
		return a.ID < b.ID
	case a.WaitingRoomEnteredAt == nil:
		return false
	case b.WaitingRoomEnteredAt == nil:
		return true
	case a.WaitingRoomEnteredAt.Equal(*b.WaitingRoomEnteredAt):
		return a.ID < b.ID
	default:
		return a.WaitingRoomEnteredAt.Before(*b.WaitingRoomEnteredAt)
	}
}

// waitExhausted reports whether s has spent MaxTotalWait since first
// entering the waiting room.
func (c *Coordinator) waitExhausted(s *Session, now time.Time) bool {
	if c.cfg.MaxTotalWait <= 0 || s.WaitingRoomEnteredAt == nil {
		return false
	}
	return now.Sub(*s.WaitingRoomEnteredAt) >= c.cfg.MaxTotalWait
}

// later returns the later of two entry times, or fallback when both are unset.
func later(a, b *time.Time, fallback time.Time) time.Time {
	switch {
	case a == nil && b == nil:
		return fallback
	case a == nil:
		return *b
	case b == nil:
		return *a
	case a.After(*b):
		return *a
	default:
		return *b
	}
}

// tryMatch runs a speculative match and logs failures.
func (c *Coordinator) tryMatch(ctx context.Context, trigger string) {
	if c.mode != ModeHumanWitness {
		return
	}
	if _, err := c.AttemptMatch(ctx); err != nil {
		log.Error().Err(err).Str("trigger", trigger).Msg("attempt match failed")
	}
}
