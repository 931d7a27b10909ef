// Package presence tracks short-lived "partner is typing" signals.
package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"turing-study/internal/study"
)

// Backend remembers that a session typed recently.
type Backend interface {
	Touch(ctx context.Context, sessionID string, window time.Duration) error
	Active(ctx context.Context, sessionID string) (bool, error)
}

type Sessions interface {
	Recover(ctx context.Context, id string) (*study.Session, error)
}

type Tracker struct {
	sessions Sessions
	backend  Backend
	window   time.Duration
}

func NewTracker(sessions Sessions, backend Backend, window time.Duration) *Tracker {
	if window <= 0 {
		window = 3 * time.Second
	}
	return &Tracker{sessions: sessions, backend: backend, window: window}
}

// Signal marks id as typing for the tracker window.
func (t *Tracker) Signal(ctx context.Context, id string) error {
	if _, err := t.sessions.Recover(ctx, id); err != nil {
		return err
	}
	return t.backend.Touch(ctx, id, t.window)
}

// PartnerTyping reports whether the session matched with id signalled
// within the window. Backend failures read as not typing.
func (t *Tracker) PartnerTyping(ctx context.Context, id string) (bool, error) {
	sess, err := t.sessions.Recover(ctx, id)
	if err != nil {
		return false, err
	}
	if sess.MatchedSessionID == "" {
		return false, nil
	}
	active, err := t.backend.Active(ctx, sess.MatchedSessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("typing lookup failed")
		return false, nil
	}
	return active, nil
}
