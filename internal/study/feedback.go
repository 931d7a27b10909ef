package study

import (
	"context"
	"fmt"
	"html"
	"strings"

	"turing-study/internal/ids"

	"github.com/rs/zerolog/log"
)

const (
	ChoiceHuman = "human"
	ChoiceAI    = "ai"

	PhaseInTurn     = "in_turn"
	PhasePreDebrief = "pre_debrief"
)

type RatingRequest struct {
	BinaryChoice          string   `json:"binary_choice" validate:"oneof=human ai"`
	Confidence            float64  `json:"confidence" validate:"gte=0,lte=1"`
	DecisionSeconds       *float64 `json:"decision_time_seconds,omitempty"`
	ReadingSeconds        float64  `json:"reading_time_seconds,omitempty"`
	ActiveDecisionSeconds float64  `json:"active_decision_time_seconds,omitempty"`
}

type RatingResult struct {
	StudyOver            bool  `json:"study_over"`
	AIDetected           *bool `json:"ai_detected"`
	PureDecisionRecorded bool  `json:"pure_decision_recorded"`
}

func validChoice(v string) bool {
	return v == ChoiceHuman || v == ChoiceAI
}

// SubmitRating appends an interrogator's judgment for the current turn. Once
// the conversation has run for ForcedCompletionAfter the rating is final and
// the session completes.
func (c *Coordinator) SubmitRating(ctx context.Context, id string, req RatingRequest) (*RatingResult, error) {
	if !validChoice(req.BinaryChoice) || req.Confidence < 0 || req.Confidence > 1 {
		return nil, fmt.Errorf("%w: binary_choice must be human|ai and confidence in [0,1]", ErrInvalidRequest)
	}
	if _, err := c.Recover(ctx, id); err != nil {
		return nil, err
	}
	decision := -1.0
	if req.DecisionSeconds != nil {
		decision = *req.DecisionSeconds
	}
	now := c.now()
	var res RatingResult
	sess, err := c.update(ctx, id, func(s *Session) error {
		res = RatingResult{}
		if s.Role == RoleWitness {
			return ErrWitnessCannotRate
		}
		if s.Status != StatusActive {
			return ErrNotActive
		}
		s.Ratings = append(s.Ratings, Rating{
			Turn:                  s.TurnCount(),
			BinaryChoice:          req.BinaryChoice,
			Confidence:            req.Confidence,
			DecisionSeconds:       decision,
			ReadingSeconds:        req.ReadingSeconds,
			ActiveDecisionSeconds: req.ActiveDecisionSeconds,
			SubmittedAt:           now,
		})
		if s.Outcome.PureDecision == nil && (req.Confidence == 0 || req.Confidence == 1) {
			pure := req.Confidence
			s.Outcome.PureDecision = &pure
			s.Outcome.PureDecisionTurn = s.TurnCount()
			s.Outcome.PureDecisionAt = &now
			res.PureDecisionRecorded = true
		}

		start := s.StartedAt
		if s.ConversationStartedAt != nil {
			start = *s.ConversationStartedAt
		}
		elapsed := now.Sub(start)
		if elapsed < c.cfg.ForcedCompletionAfter {
			return nil
		}
		detected := req.BinaryChoice == ChoiceAI
		s.Outcome.FinalChoice = req.BinaryChoice
		s.Outcome.FinalConfidence = req.Confidence
		s.Outcome.AIDetected = &detected
		s.Outcome.FinalDecisionSeconds = decision
		s.Outcome.TotalStudyMinutes = elapsed.Minutes()
		s.Outcome.ForcedCompletion = true
		s.Outcome.CompletedAt = &now
		res.StudyOver = true
		res.AIDetected = &detected
		return s.TransitionStatus(StatusCompleted)
	})
	if err != nil {
		return nil, err
	}
	if res.StudyOver {
		metricCompleteTotal.Add(1)
		log.Info().
			Str("session_id", sess.ID).
			Bool("ai_detected", *res.AIDetected).
			Float64("total_study_minutes", sess.Outcome.TotalStudyMinutes).
			Msg("study completed")
	}
	return &res, nil
}

type CommentRequest struct {
	Phase string `json:"phase" validate:"oneof=in_turn pre_debrief"`
	Text  string `json:"comment"`
}

// SubmitComment records free-text feedback. In-turn comments are tied to the
// current turn; pre-debrief comments carry no turn.
func (c *Coordinator) SubmitComment(ctx context.Context, id string, req CommentRequest) error {
	if req.Phase != PhaseInTurn && req.Phase != PhasePreDebrief {
		return fmt.Errorf("%w: phase must be %s|%s", ErrInvalidRequest, PhaseInTurn, PhasePreDebrief)
	}
	if _, err := c.Recover(ctx, id); err != nil {
		return err
	}
	now := c.now()
	_, err := c.update(ctx, id, func(s *Session) error {
		turn := 0
		if req.Phase == PhaseInTurn {
			turn = s.TurnCount()
		}
		s.Comments = append(s.Comments, Comment{
			Turn:        turn,
			Phase:       req.Phase,
			Text:        html.EscapeString(req.Text),
			SubmittedAt: now,
		})
		return nil
	})
	return err
}

type FinalCommentRequest struct {
	Comment      string `json:"comment"`
	BinaryChoice string `json:"binary_choice,omitempty" validate:"omitempty,oneof=human ai"`
}

// SubmitFinalComment stores the debrief comment and, for a participant who
// ends without a forced completion (a witness, or an interrogator whose
// partner dropped), the final choice that completes the session.
func (c *Coordinator) SubmitFinalComment(ctx context.Context, id string, req FinalCommentRequest) error {
	if req.BinaryChoice != "" && !validChoice(req.BinaryChoice) {
		return fmt.Errorf("%w: binary_choice must be human|ai", ErrInvalidRequest)
	}
	now := c.now()
	completed := false
	_, err := c.update(ctx, id, func(s *Session) error {
		completed = false
		s.Outcome.FinalComment = html.EscapeString(req.Comment)
		if req.BinaryChoice != "" {
			s.Outcome.FinalChoice = req.BinaryChoice
			if s.Role == RoleInterrogator && s.Outcome.AIDetected == nil {
				detected := req.BinaryChoice == ChoiceAI
				s.Outcome.AIDetected = &detected
			}
		}
		if s.Status == StatusActive {
			s.Outcome.CompletedAt = &now
			s.Outcome.TotalStudyMinutes = now.Sub(s.StartedAt).Minutes()
			completed = true
			return s.TransitionStatus(StatusCompleted)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if completed {
		metricCompleteTotal.Add(1)
		log.Info().Str("session_id", id).Msg("study completed with final comment")
	}
	return nil
}

type UIEventRequest struct {
	SessionID     string         `json:"session_id,omitempty"`
	ParticipantID string         `json:"participant_id,omitempty"`
	Event         string         `json:"event" validate:"required"`
	ClientTS      string         `json:"ts_client,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type UIEventResult struct {
	Stored  string `json:"stored"`
	EventID string `json:"event_id,omitempty"`
}

const (
	EventStoredSession    = "session"
	EventStoredPreSession = "pre_session"
	EventStoredDropped    = "dropped"
)

// LogUIEvent appends a client event to an active session, or buffers it under
// the participant id until the session is initialized.
func (c *Coordinator) LogUIEvent(ctx context.Context, req UIEventRequest) (*UIEventResult, error) {
	if strings.TrimSpace(req.Event) == "" {
		return nil, fmt.Errorf("%w: event required", ErrInvalidRequest)
	}
	ev := UIEvent{
		ID:       ids.New(),
		Event:    req.Event,
		ClientTS: req.ClientTS,
		ServerTS: c.now(),
		Metadata: req.Metadata,
	}
	if req.SessionID != "" {
		if _, err := c.Recover(ctx, req.SessionID); err == nil {
			_, err := c.update(ctx, req.SessionID, func(s *Session) error {
				s.UIEvents = append(s.UIEvents, ev)
				return nil
			})
			if err == nil {
				return &UIEventResult{Stored: EventStoredSession, EventID: ev.ID}, nil
			}
			logSwallowed(err, req.SessionID, "append ui event failed")
		}
	}
	if req.ParticipantID != "" {
		c.pending.add(req.ParticipantID, ev)
		return &UIEventResult{Stored: EventStoredPreSession, EventID: ev.ID}, nil
	}
	return &UIEventResult{Stored: EventStoredDropped}, nil
}
