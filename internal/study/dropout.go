package study

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	ReasonPartnerDroppedWaitingRoom = "partner_dropped_waiting_room"
	ReasonStaleMatchNoMessages      = "stale_match_no_messages"
	ReasonWaitExhausted             = "max_total_wait"

	ScreenPartnerReportedDropout = "partner_reported_dropout"
	ScreenCleanupWaitingRoom     = "backend_cleanup_waiting_room"
	ScreenCleanupConsent         = "backend_cleanup_consent"
	screenRequeueTimeoutPrefix   = "requeue_timeout_"
)

type AbandonRequest struct {
	SessionID  string `json:"session_id" validate:"required"`
	ExternalID string `json:"prolific_pid,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type DropoutResult struct {
	Requeued    bool `json:"requeued"`
	TimedOut    bool `json:"timed_out"`
	HadMessages bool `json:"had_messages"`
}

type TimeoutRequest struct {
	ParticipantID string `json:"participant_id" validate:"required_without=SessionID"`
	SessionID     string `json:"session_id,omitempty"`
	Screen        string `json:"timeout_screen" validate:"required"`
}

type FinalizeRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	ExternalID    string `json:"prolific_pid,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ReportAbandonment handles an explicit leave signal. The reporter is
// abandoned and a bound partner learns its partner dropped. Terminal
// sessions only get the idempotent counter release.
func (c *Coordinator) ReportAbandonment(ctx context.Context, req AbandonRequest) error {
	if req.SessionID == "" {
		return fmt.Errorf("%w: session_id required", ErrInvalidRequest)
	}
	sess, err := c.update(ctx, req.SessionID, func(s *Session) error {
		if !s.Status.Terminal() {
			if err := s.TransitionStatus(StatusAbandoned); err != nil {
				return err
			}
		}
		if !s.MatchStatus.Terminal() {
			if err := s.TransitionMatch(MatchAbandoned); err != nil {
				return err
			}
		}
		s.ReleaseCounter()
		return nil
	})
	if err != nil {
		return err
	}
	metricAbandonTotal.Add(1)
	log.Info().Str("session_id", sess.ID).Str("reason", req.Reason).Msg("session abandoned")

	if partnerID := sess.MatchedSessionID; partnerID != "" {
		_, err := c.update(ctx, partnerID, func(p *Session) error {
			if p.MatchedSessionID != sess.ID || p.MatchStatus != MatchMatched {
				return nil
			}
			return p.TransitionMatch(MatchPartnerDropped)
		})
		logSwallowed(err, partnerID, "propagate partner dropped failed")
	}

	reason := req.Reason
	if reason == "" {
		reason = "abandoned"
	}
	externalID := req.ExternalID
	if externalID == "" {
		externalID = sess.UserID
	}
	err = c.repo.RecordDropout(ctx, DroppedParticipant{
		ParticipantID: sess.ID,
		ExternalID:    externalID,
		Reason:        reason,
		UIEvents:      sess.UIEvents,
		CreatedAt:     c.now(),
	})
	logSwallowed(err, sess.ID, "record dropout failed")
	return nil
}

// ReportPartnerDropped is sent by the session that noticed its partner
// vanish. Once messages were exchanged the conversation-ending flow takes
// over; before that the reporter is requeued or timed out and the partner
// is orphaned.
func (c *Coordinator) ReportPartnerDropped(ctx context.Context, id string) (*DropoutResult, error) {
	sess, err := c.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	var partner *Session
	if sess.MatchedSessionID != "" {
		partner, err = c.repo.GetSession(ctx, sess.MatchedSessionID)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}

	if sess.TurnCount() > 0 || (partner != nil && partner.MatchedSessionID == sess.ID && partner.TurnCount() > 0) {
		_, err := c.update(ctx, id, func(s *Session) error {
			if s.MatchStatus != MatchMatched {
				return nil
			}
			return s.TransitionMatch(MatchPartnerDropped)
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("session_id", id).Msg("partner dropped mid-conversation")
		return &DropoutResult{HadMessages: true}, nil
	}

	if partner == nil || partner.MatchedSessionID != sess.ID {
		res, err := c.requeueOrTimeout(ctx, id, ReasonPartnerDroppedWaitingRoom)
		if err != nil {
			return nil, err
		}
		return &res, nil
	}

	var res DropoutResult
	now := c.now()
	_, _, err = c.updatePair(ctx, id, partner.ID, func(s, p *Session) error {
		if s.MatchedSessionID != p.ID || p.MatchedSessionID != s.ID {
			res = DropoutResult{}
			return nil
		}
		var err error
		if res, err = c.applyRequeue(s, now, ReasonPartnerDroppedWaitingRoom); err != nil {
			return err
		}
		return applyOrphan(p, ScreenPartnerReportedDropout)
	})
	if err != nil {
		return nil, err
	}
	c.afterRequeue(ctx, id, res, ReasonPartnerDroppedWaitingRoom)
	log.Info().Str("session_id", id).Str("partner_session_id", partner.ID).Msg("partner orphaned")
	return &res, nil
}

// requeueOrTimeout returns a dissolved pairing to the waiting room while the
// cumulative wait allows it, otherwise ends the session.
func (c *Coordinator) requeueOrTimeout(ctx context.Context, id, reason string) (DropoutResult, error) {
	var res DropoutResult
	now := c.now()
	_, err := c.update(ctx, id, func(s *Session) error {
		var err error
		res, err = c.applyRequeue(s, now, reason)
		return err
	})
	if err != nil {
		return DropoutResult{}, err
	}
	c.afterRequeue(ctx, id, res, reason)
	return res, nil
}

func (c *Coordinator) afterRequeue(ctx context.Context, id string, res DropoutResult, reason string) {
	switch {
	case res.Requeued:
		metricRequeueTotal.Add(1)
		log.Info().Str("session_id", id).Str("reason", reason).Msg("session requeued")
		c.tryMatch(ctx, "requeue")
	case res.TimedOut:
		metricTimeoutTotal.Add(1)
		log.Info().Str("session_id", id).Str("reason", reason).Msg("requeue wait exhausted")
	}
}

// applyRequeue mutates s in place. Only a live pairing (matched or
// partner_dropped) is requeued; anything else is left alone.
func (c *Coordinator) applyRequeue(s *Session, now time.Time, reason string) (DropoutResult, error) {
	if s.MatchStatus != MatchMatched && s.MatchStatus != MatchPartnerDropped {
		return DropoutResult{}, nil
	}
	if s.Status.Terminal() {
		return DropoutResult{}, nil
	}
	if s.WaitingRoomEnteredAt != nil && now.Sub(*s.WaitingRoomEnteredAt) < c.cfg.MaxTotalWait {
		if err := s.TransitionMatch(MatchWaiting); err != nil {
			return DropoutResult{}, err
		}
		s.clearMatch()
		s.RequeueCount++
		return DropoutResult{Requeued: true}, nil
	}
	if err := expireWait(s, reason); err != nil {
		return DropoutResult{}, err
	}
	return DropoutResult{TimedOut: true}, nil
}

// expireWait ends a session whose cumulative wait ran out.
func expireWait(s *Session, reason string) error {
	if err := s.TransitionMatch(MatchTimedOut); err != nil {
		return err
	}
	s.clearMatch()
	if err := s.TransitionStatus(StatusAbandoned); err != nil {
		return err
	}
	s.TimeoutScreen = screenRequeueTimeoutPrefix + reason
	s.ReleaseCounter()
	return nil
}

// applyOrphan closes out the partner of a session that was requeued or timed
// out before any message was exchanged.
func applyOrphan(p *Session, screen string) error {
	if !p.MatchStatus.Terminal() {
		target := MatchOrphaned
		if !p.MatchStatus.CanTransition(target) {
			target = MatchAbandoned
		}
		if err := p.TransitionMatch(target); err != nil {
			return err
		}
	}
	if !p.Status.Terminal() {
		if err := p.TransitionStatus(StatusAbandoned); err != nil {
			return err
		}
		p.TimeoutScreen = screen
	}
	p.clearMatch()
	p.ReleaseCounter()
	return nil
}

// RecordTimeout stores which screen a participant timed out on. The session
// is looked up by session id first, then by participant id.
func (c *Coordinator) RecordTimeout(ctx context.Context, req TimeoutRequest) (bool, error) {
	if req.Screen == "" {
		return false, fmt.Errorf("%w: timeout_screen required", ErrInvalidRequest)
	}
	fn := func(s *Session) error {
		s.TimeoutScreen = req.Screen
		if !s.Status.Terminal() {
			if err := s.TransitionStatus(StatusTimeout); err != nil {
				return err
			}
		}
		if !s.MatchStatus.Terminal() {
			if err := s.TransitionMatch(MatchTimedOut); err != nil {
				return err
			}
		}
		s.ReleaseCounter()
		return nil
	}
	for _, id := range []string{req.SessionID, req.ParticipantID} {
		if id == "" {
			continue
		}
		_, err := c.update(ctx, id, fn)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		log.Info().Str("session_id", id).Str("timeout_screen", req.Screen).Msg("timeout recorded")
		return true, nil
	}
	return false, nil
}

// FinalizeNoSession closes out a participant who left before the study
// started, such as a declined consent. An audit row is always written.
func (c *Coordinator) FinalizeNoSession(ctx context.Context, req FinalizeRequest) error {
	if req.ParticipantID == "" {
		return fmt.Errorf("%w: participant_id required", ErrInvalidRequest)
	}
	events := c.pending.take(req.ParticipantID)
	sess, err := c.update(ctx, req.ParticipantID, func(s *Session) error {
		if !s.Role.Assigned() {
			return nil
		}
		if !s.Status.Terminal() {
			if err := s.TransitionStatus(StatusAbandoned); err != nil {
				return err
			}
		}
		if !s.MatchStatus.Terminal() {
			if err := s.TransitionMatch(MatchAbandoned); err != nil {
				return err
			}
		}
		s.ReleaseCounter()
		return nil
	})
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		logSwallowed(err, req.ParticipantID, "finalize no session failed")
	}
	if sess != nil {
		events = append(append([]UIEvent(nil), sess.UIEvents...), events...)
	}
	reason := req.Reason
	if reason == "" {
		reason = "no_session"
	}
	return c.repo.RecordDropout(ctx, DroppedParticipant{
		ParticipantID: req.ParticipantID,
		ExternalID:    req.ExternalID,
		Reason:        reason,
		UIEvents:      events,
		CreatedAt:     c.now(),
	})
}
