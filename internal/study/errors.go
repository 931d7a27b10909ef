package study

import "errors"

var (
	ErrSessionNotFound   = errors.New("session_not_found")
	ErrRetryable         = errors.New("retryable")
	ErrInvalidRequest    = errors.New("invalid_request")
	ErrNoRole            = errors.New("no_role_assigned")
	ErrNoPartner         = errors.New("no_partner_matched")
	ErrWitnessCannotRate = errors.New("witness_cannot_rate")
	ErrChatNotReady      = errors.New("chat_not_ready")
	ErrNotActive         = errors.New("session_not_active")
	ErrInvalidTurn       = errors.New("invalid_turn")
	ErrIllegalTransition = errors.New("illegal_transition")
	ErrRoleImmutable     = errors.New("role_immutable")
	ErrInvalidState      = errors.New("invalid_state")
)
