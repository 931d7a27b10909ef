package study

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

type AssignRoleRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,max=128"`
	UserID        string `json:"user_id,omitempty"`
}

type RoleAssignment struct {
	SessionID   string `json:"session_id"`
	Role        Role   `json:"role"`
	SocialStyle string `json:"social_style,omitempty"`
	Mode        Mode   `json:"study_mode"`
	Existing    bool   `json:"existing"`
}

// PickRole gives the slot to the smaller side. Ties alternate on the parity
// of the running total so bursts stay balanced.
func PickRole(c RoleCounter) Role {
	switch {
	case c.Interrogators < c.Witnesses:
		return RoleInterrogator
	case c.Witnesses < c.Interrogators:
		return RoleWitness
	case c.Total()%2 == 0:
		return RoleInterrogator
	default:
		return RoleWitness
	}
}

func (c *Coordinator) socialStyle() string {
	if c.cfg.ForceSocialStyle != "" {
		return c.cfg.ForceSocialStyle
	}
	return c.pick(c.cfg.SocialStyles)
}

// AssignRole returns the participant's existing role while their session is
// in progress, otherwise draws a balanced role and resets the record to
// pre_consent.
func (c *Coordinator) AssignRole(ctx context.Context, req AssignRoleRequest) (*RoleAssignment, error) {
	if req.ParticipantID == "" {
		return nil, fmt.Errorf("%w: participant_id required", ErrInvalidRequest)
	}
	metricRoleAssignTotal.Add(1)
	params := AssignRoleParams{
		SessionID: req.ParticipantID,
		UserID:    req.UserID,
		Now:       c.now(),
		Counted:   c.mode == ModeHumanWitness,
		Pick:      PickRole,
	}
	if c.mode == ModeAIWitness {
		params.Pick = func(RoleCounter) Role { return RoleInterrogator }
	}
	params.Prepare = func(s *Session) {
		if s.Role == RoleWitness {
			s.SocialStyle = c.socialStyle()
		}
	}

	sess, existing, err := c.repo.AssignRole(ctx, params)
	if err != nil {
		metricRoleAssignErrors.Add(1)
		if errors.Is(err, ErrInvalidRequest) {
			return nil, err
		}
		log.Error().Err(err).Str("participant_id", req.ParticipantID).Msg("role assignment failed")
		return nil, fmt.Errorf("%w: assign role: %v", ErrRetryable, err)
	}
	if !existing {
		log.Info().
			Str("session_id", sess.ID).
			Str("role", string(sess.Role)).
			Str("study_mode", string(c.mode)).
			Msg("role assigned")
	}
	return &RoleAssignment{
		SessionID:   sess.ID,
		Role:        sess.Role,
		SocialStyle: sess.SocialStyle,
		Mode:        c.mode,
		Existing:    existing,
	}, nil
}
