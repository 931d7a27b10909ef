package study

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Recover returns the live view of an active session, rebuilding it from the
// repository after a restart. Anything not active is gone.
func (c *Coordinator) Recover(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session id required", ErrInvalidRequest)
	}
	if s, ok := c.cache.get(id); ok {
		return s, nil
	}
	s, err := c.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, ErrSessionNotFound
	}
	flagged, err := c.update(ctx, id, func(s *Session) error {
		s.RecoveredFromRestart = true
		return nil
	})
	if err != nil {
		logSwallowed(err, id, "flag recovered session failed")
		s.RecoveredFromRestart = true
		c.cache.refresh(s)
		return s, nil
	}
	metricRecoverTotal.Add(1)
	log.Info().Str("session_id", id).Int("turn_count", flagged.TurnCount()).Msg("session recovered")
	return flagged, nil
}

// MarkInterruptedOnStartup closes every session left active by a previous
// process. Each record releases its role slot at most once; a pairing still
// in flight is closed out so nobody gets matched with a ghost.
func (c *Coordinator) MarkInterruptedOnStartup(ctx context.Context) (int, error) {
	active, err := c.repo.ListSessions(ctx, SessionFilter{Statuses: []SessionStatus{StatusActive}})
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, s := range active {
		_, err := c.update(ctx, s.ID, func(s *Session) error {
			if s.Status != StatusActive {
				return nil
			}
			if err := s.TransitionStatus(StatusInterrupted); err != nil {
				return err
			}
			if !s.MatchStatus.Terminal() && s.MatchStatus.CanTransition(MatchAbandoned) {
				switch s.MatchStatus {
				case MatchWaiting, MatchMatched, MatchPartnerDropped:
					if err := s.TransitionMatch(MatchAbandoned); err != nil {
						return err
					}
				}
			}
			s.ReleaseCounter()
			return nil
		})
		if err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Msg("mark interrupted failed")
			continue
		}
		marked++
	}
	if marked > 0 {
		log.Warn().Int("sessions", marked).Msg("marked active sessions interrupted on startup")
	}
	return marked, nil
}
