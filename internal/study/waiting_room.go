package study

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const consentAgreeEvent = "consent_agree_clicked"

type InitializeRequest struct {
	Persona       string         `json:"persona,omitempty"`
	Domain        string         `json:"domain,omitempty"`
	ProfileSurvey map[string]any `json:"profile_survey,omitempty"`
}

type InitializeResult struct {
	Session            *Session `json:"session"`
	AlreadyInitialized bool     `json:"already_initialized"`
}

var errAlreadyInitialized = errors.New("already initialized")

// Initialize moves a pre_consent record to active, attaching the survey, the
// persona and any UI events buffered before the session existed.
func (c *Coordinator) Initialize(ctx context.Context, id string, req InitializeRequest) (*InitializeResult, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session id required", ErrInvalidRequest)
	}
	buffered := c.pending.peek(id)
	sess, err := c.update(ctx, id, func(s *Session) error {
		if s.Status != StatusPreConsent {
			return errAlreadyInitialized
		}
		if !s.Role.Assigned() {
			return ErrNoRole
		}
		s.Persona = req.Persona
		if s.Persona == "" {
			s.Persona = c.pick(c.cfg.Personas)
		}
		s.Domain = req.Domain
		if s.Domain == "" {
			s.Domain = c.pick(c.cfg.Domains)
		}
		s.Condition = s.Persona
		if req.ProfileSurvey != nil {
			s.ProfileSurvey = req.ProfileSurvey
		}
		s.UIEvents = append(s.UIEvents, buffered...)
		for _, ev := range s.UIEvents {
			if ev.Event == consentAgreeEvent {
				s.ConsentAccepted = true
				break
			}
		}
		if err := s.TransitionMatch(MatchUnmatched); err != nil {
			return err
		}
		return s.TransitionStatus(StatusActive)
	})
	if errors.Is(err, errAlreadyInitialized) {
		cur, getErr := c.repo.GetSession(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return &InitializeResult{Session: cur, AlreadyInitialized: true}, nil
	}
	if err != nil {
		return nil, err
	}
	c.pending.drop(id)
	log.Info().
		Str("session_id", sess.ID).
		Str("role", string(sess.Role)).
		Str("persona", sess.Persona).
		Bool("consent_accepted", sess.ConsentAccepted).
		Msg("study initialized")
	return &InitializeResult{Session: sess}, nil
}

type MatchView struct {
	SessionID          string      `json:"session_id"`
	MatchStatus        MatchStatus `json:"match_status"`
	Matched            bool        `json:"matched"`
	TimedOut           bool        `json:"timed_out"`
	CleanupReason      string      `json:"cleanup_reason,omitempty"`
	PartnerSessionID   string      `json:"partner_session_id,omitempty"`
	FirstMessageSender Role        `json:"first_message_sender,omitempty"`
	TimeWaitingSeconds float64     `json:"time_waiting_seconds"`
	ProceedToChatAt    *time.Time  `json:"proceed_to_chat_at,omitempty"`
	ChatAllowed        bool        `json:"chat_allowed"`
	RequeueCount       int         `json:"requeue_count"`
	WasRequeued        bool        `json:"was_requeued"`
}

// JoinWaitingRoom queues the session and immediately tries to pair it.
// Re-joining keeps the original entry time so FIFO position survives
// refreshes. A dissolved pairing only returns to the queue through the
// requeue policy, never through a join.
func (c *Coordinator) JoinWaitingRoom(ctx context.Context, id string) (*MatchView, error) {
	if c.mode != ModeHumanWitness {
		return nil, fmt.Errorf("%w: waiting room disabled in %s mode", ErrInvalidRequest, c.mode)
	}
	now := c.now()
	_, err := c.update(ctx, id, func(s *Session) error {
		if !s.Role.Assigned() {
			return ErrNoRole
		}
		if s.Status.Terminal() {
			return ErrNotActive
		}
		switch s.MatchStatus {
		case MatchWaiting, MatchMatched:
			return nil
		case MatchUnmatched, MatchPreConsent:
		default:
			return fmt.Errorf("%w: cannot join waiting room from %s", ErrNotActive, s.MatchStatus)
		}
		if err := s.TransitionMatch(MatchWaiting); err != nil {
			return err
		}
		if s.WaitingRoomEnteredAt == nil {
			entered := now
			s.WaitingRoomEnteredAt = &entered
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("session_id", id).Msg("joined waiting room")
	c.tryMatch(ctx, "join_waiting_room")
	return c.MatchStatus(ctx, id)
}

// MatchStatus reports the pairing state for a polling client. A waiting
// session triggers a speculative match first.
func (c *Coordinator) MatchStatus(ctx context.Context, id string) (*MatchView, error) {
	sess, err := c.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.MatchStatus == MatchWaiting {
		c.tryMatch(ctx, "match_status")
		if sess, err = c.repo.GetSession(ctx, id); err != nil {
			return nil, err
		}
	}
	now := c.now()
	view := &MatchView{
		SessionID:    sess.ID,
		MatchStatus:  sess.MatchStatus,
		RequeueCount: sess.RequeueCount,
		WasRequeued:  sess.RequeueCount > 0,
	}
	switch sess.MatchStatus {
	case MatchTimedOut, MatchOrphaned:
		view.TimedOut = true
		view.CleanupReason = sess.TimeoutScreen
	case MatchMatched:
		view.Matched = true
		view.PartnerSessionID = sess.MatchedSessionID
		view.FirstMessageSender = sess.FirstMessageSender
		view.ProceedToChatAt = sess.ProceedToChatAt
		view.ChatAllowed = sess.ChatAllowed(now)
		if sess.WaitingRoomEnteredAt != nil && sess.MatchedAt != nil {
			view.TimeWaitingSeconds = sess.MatchedAt.Sub(*sess.WaitingRoomEnteredAt).Seconds()
		}
	case MatchWaiting:
		if sess.WaitingRoomEnteredAt != nil {
			view.TimeWaitingSeconds = now.Sub(*sess.WaitingRoomEnteredAt).Seconds()
		}
	}
	return view, nil
}
