package study

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// NextTurn resolves the turn number for an incoming message. Zero means the
// next turn; an existing number is a client retry that overwrites in place.
func (s *Session) NextTurn(requested int) (int, error) {
	next := s.TurnCount() + 1
	if requested == 0 {
		return next, nil
	}
	if requested < 1 || requested > next {
		return 0, fmt.Errorf("%w: turn %d outside 1..%d", ErrInvalidTurn, requested, next)
	}
	return requested, nil
}

// ExpectedSender is the role allowed to author turn n of a peer
// conversation. Turns alternate starting with FirstMessageSender.
func (s *Session) ExpectedSender(n int) Role {
	first := s.FirstMessageSender
	if !first.Assigned() {
		first = RoleInterrogator
	}
	if n%2 == 1 {
		return first
	}
	return first.Partner()
}

// ApplyTurn stores t on the session, overwriting an entry with the same turn
// number. Turns beyond the next expected number are rejected.
func (c *Coordinator) ApplyTurn(ctx context.Context, id string, t Turn) (*Session, error) {
	return c.update(ctx, id, func(s *Session) error {
		if s.Status != StatusActive {
			return ErrNotActive
		}
		if t.Turn > s.TurnCount()+1 {
			return fmt.Errorf("%w: turn %d after %d", ErrInvalidTurn, t.Turn, s.TurnCount())
		}
		if t.SenderRole.Assigned() && s.MatchedSessionID != "" && s.ExpectedSender(t.Turn) != t.SenderRole {
			return fmt.Errorf("%w: turn %d belongs to %s", ErrInvalidTurn, t.Turn, s.ExpectedSender(t.Turn))
		}
		_, err := s.UpsertTurn(t)
		return err
	})
}

type PartnerMessage struct {
	Status         string `json:"status"`
	HasMessage     bool   `json:"has_message"`
	MessageText    string `json:"message_text,omitempty"`
	Turn           int    `json:"turn,omitempty"`
	PartnerTyping  bool   `json:"partner_typing"`
	PartnerDropped bool   `json:"partner_dropped"`
	StudyCompleted bool   `json:"study_completed"`
}

const (
	PartnerStatusWaiting   = "waiting"
	PartnerStatusMessage   = "message"
	PartnerStatusTyping    = "typing"
	PartnerStatusDropped   = "partner_dropped"
	PartnerStatusCompleted = "study_completed"
)

// PollPartnerMessage delivers the partner's next turn once its artificial
// delay has elapsed. While the delay runs the partner shows as typing.
func (c *Coordinator) PollPartnerMessage(ctx context.Context, id string) (*PartnerMessage, error) {
	if _, err := c.Recover(ctx, id); err != nil {
		return nil, err
	}
	self, err := c.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	dropped := &PartnerMessage{Status: PartnerStatusDropped, PartnerDropped: true}
	if self.MatchStatus == MatchPartnerDropped {
		return dropped, nil
	}
	if self.MatchedSessionID == "" {
		return nil, ErrNoPartner
	}
	partner, err := c.repo.GetSession(ctx, self.MatchedSessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return dropped, nil
	}
	if err != nil {
		return nil, err
	}
	if partner.Status == StatusCompleted {
		return &PartnerMessage{Status: PartnerStatusCompleted, StudyCompleted: true}, nil
	}
	if partner.MatchStatus == MatchPartnerDropped || partner.Status.Terminal() || partner.MatchedSessionID != self.ID {
		return dropped, nil
	}

	if partner.TurnCount() <= self.TurnCount() {
		return &PartnerMessage{Status: PartnerStatusWaiting}, nil
	}
	next, ok := partner.TurnByNumber(self.TurnCount() + 1)
	if !ok {
		return &PartnerMessage{Status: PartnerStatusWaiting}, nil
	}
	now := c.now()
	if next.DeliverAt != nil && now.Before(*next.DeliverAt) {
		return &PartnerMessage{Status: PartnerStatusTyping, PartnerTyping: true}, nil
	}
	delivered := *next
	if _, err := c.update(ctx, id, func(s *Session) error {
		if _, exists := s.TurnByNumber(delivered.Turn); exists {
			return nil
		}
		if delivered.Turn != s.TurnCount()+1 {
			return nil
		}
		_, err := s.UpsertTurn(delivered)
		return err
	}); err != nil {
		return nil, err
	}
	log.Debug().Str("session_id", id).Int("turn", delivered.Turn).Msg("partner message delivered")
	return &PartnerMessage{
		Status:      PartnerStatusMessage,
		HasMessage:  true,
		MessageText: delivered.UserText,
		Turn:        delivered.Turn,
	}, nil
}

// RecordNetworkDelay attaches the client-measured delivery delay to a turn.
// Store failures are logged and swallowed.
func (c *Coordinator) RecordNetworkDelay(ctx context.Context, id string, turn int, seconds float64) error {
	if turn < 1 || seconds < 0 {
		return fmt.Errorf("%w: turn and delay must be positive", ErrInvalidRequest)
	}
	excessive := seconds > c.cfg.ExcessiveNetworkDelay.Seconds()
	_, err := c.update(ctx, id, func(s *Session) error {
		t, ok := s.TurnByNumber(turn)
		if !ok {
			return fmt.Errorf("%w: turn %d", ErrInvalidTurn, turn)
		}
		delay := seconds
		t.Timing.NetworkDelaySeconds = &delay
		if excessive {
			s.Outcome.HasExcessiveDelays = true
		}
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrInvalidTurn) {
		return err
	}
	logSwallowed(err, id, "update network delay failed")
	if excessive {
		log.Warn().Str("session_id", id).Int("turn", turn).Float64("network_delay_seconds", seconds).Msg("excessive network delay")
	}
	return nil
}

// LogConversationStart stamps the first time the chat became visible. Later
// calls keep the original timestamp.
func (c *Coordinator) LogConversationStart(ctx context.Context, id string) (time.Time, error) {
	now := c.now()
	sess, err := c.update(ctx, id, func(s *Session) error {
		if s.Status != StatusActive {
			return ErrNotActive
		}
		if s.ConversationStartedAt == nil {
			s.ConversationStartedAt = &now
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return *sess.ConversationStartedAt, nil
}
