package study

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleUnassigned   Role = "unassigned"
	RoleInterrogator Role = "interrogator"
	RoleWitness      Role = "witness"
)

func ParseRole(v string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(v))) {
	case "", RoleUnassigned:
		return RoleUnassigned, nil
	case RoleInterrogator:
		return RoleInterrogator, nil
	case RoleWitness:
		return RoleWitness, nil
	default:
		return RoleUnassigned, fmt.Errorf("%w: role %q", ErrInvalidState, v)
	}
}

func (r Role) Assigned() bool {
	return r == RoleInterrogator || r == RoleWitness
}

// Partner returns the role a session of role r is paired with.
func (r Role) Partner() Role {
	switch r {
	case RoleInterrogator:
		return RoleWitness
	case RoleWitness:
		return RoleInterrogator
	default:
		return RoleUnassigned
	}
}

type MatchStatus string

const (
	MatchUnmatched      MatchStatus = "unmatched"
	MatchPreConsent     MatchStatus = "pre_consent"
	MatchWaiting        MatchStatus = "waiting"
	MatchMatched        MatchStatus = "matched"
	MatchPartnerDropped MatchStatus = "partner_dropped"
	MatchOrphaned       MatchStatus = "orphaned"
	MatchTimedOut       MatchStatus = "timed_out"
	MatchAbandoned      MatchStatus = "abandoned"
)

var matchTransitions = map[MatchStatus][]MatchStatus{
	MatchUnmatched:      {MatchPreConsent, MatchWaiting, MatchAbandoned, MatchTimedOut},
	MatchPreConsent:     {MatchUnmatched, MatchWaiting, MatchAbandoned, MatchTimedOut},
	MatchWaiting:        {MatchMatched, MatchTimedOut, MatchAbandoned},
	MatchMatched:        {MatchPartnerDropped, MatchWaiting, MatchOrphaned, MatchAbandoned, MatchTimedOut},
	MatchPartnerDropped: {MatchWaiting, MatchTimedOut, MatchAbandoned},
	MatchOrphaned:       {},
	MatchTimedOut:       {},
	MatchAbandoned:      {},
}

func ParseMatchStatus(v string) (MatchStatus, error) {
	s := MatchStatus(strings.ToLower(strings.TrimSpace(v)))
	if s == "" {
		return MatchUnmatched, nil
	}
	if _, ok := matchTransitions[s]; !ok {
		return MatchUnmatched, fmt.Errorf("%w: match_status %q", ErrInvalidState, v)
	}
	return s, nil
}

func (s MatchStatus) CanTransition(to MatchStatus) bool {
	for _, next := range matchTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s MatchStatus) Terminal() bool {
	return s == MatchOrphaned || s == MatchTimedOut || s == MatchAbandoned
}

type SessionStatus string

const (
	StatusPreConsent  SessionStatus = "pre_consent"
	StatusActive      SessionStatus = "active"
	StatusCompleted   SessionStatus = "completed"
	StatusInterrupted SessionStatus = "interrupted"
	StatusAbandoned   SessionStatus = "abandoned"
	StatusTimeout     SessionStatus = "timeout"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	StatusPreConsent:  {StatusActive, StatusAbandoned, StatusTimeout},
	StatusActive:      {StatusCompleted, StatusInterrupted, StatusAbandoned, StatusTimeout},
	StatusCompleted:   {},
	StatusInterrupted: {},
	StatusAbandoned:   {},
	StatusTimeout:     {},
}

func ParseSessionStatus(v string) (SessionStatus, error) {
	s := SessionStatus(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := sessionTransitions[s]; !ok {
		return StatusPreConsent, fmt.Errorf("%w: session_status %q", ErrInvalidState, v)
	}
	return s, nil
}

func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	return len(sessionTransitions[s]) == 0
}

// InProgress reports whether a participant still holds their role.
func (s SessionStatus) InProgress() bool {
	return s == StatusPreConsent || s == StatusActive
}

type Mode string

const (
	ModeAIWitness    Mode = "AI_WITNESS"
	ModeHumanWitness Mode = "HUMAN_WITNESS"
)

func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(v))) {
	case ModeAIWitness:
		return ModeAIWitness, nil
	case "", ModeHumanWitness:
		return ModeHumanWitness, nil
	default:
		return ModeHumanWitness, fmt.Errorf("unknown study mode %q", v)
	}
}
