// Package conversation routes participant messages either to a matched
// human partner or to a generated witness, with human-like timing.
package conversation

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"turing-study/internal/generation"
	"turing-study/internal/study"
)

// Sessions is the slice of the coordinator the engine needs.
type Sessions interface {
	Recover(ctx context.Context, id string) (*study.Session, error)
	ApplyTurn(ctx context.Context, id string, t study.Turn) (*study.Session, error)
	Mode() study.Mode
	Now() time.Time
}

type TurnRequest struct {
	Message                string  `json:"message" validate:"required,max=4000"`
	Turn                   int     `json:"turn,omitempty" validate:"gte=0"`
	CompositionSeconds     float64 `json:"message_composition_time_seconds,omitempty" validate:"gte=0"`
	TypingIndicatorSeconds float64 `json:"typing_indicator_delay_seconds,omitempty" validate:"gte=0"`
}

type TurnReply struct {
	Turn                   int       `json:"turn"`
	Timestamp              time.Time `json:"timestamp"`
	HumanPartner           bool      `json:"human_partner"`
	MessageRouted          bool      `json:"message_routed,omitempty"`
	ArtificialDelaySeconds float64   `json:"artificial_delay_seconds,omitempty"`
	AIResponse             string    `json:"ai_response,omitempty"`
	RetryAttempts          int       `json:"retry_attempts"`
	RetrySeconds           float64   `json:"retry_time_seconds"`
}

type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Engine struct {
	sessions  Sessions
	generator generation.Generator
	sampler   *Sampler
	sleep     SleepFunc
	clock     func() time.Time
}

type Option func(*Engine)

func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock sets the wall clock used to measure generation time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

func NewEngine(sessions Sessions, generator generation.Generator, sampler *Sampler, opts ...Option) *Engine {
	e := &Engine{
		sessions:  sessions,
		generator: generator,
		sampler:   sampler,
		sleep:     Sleep,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitTurn stores one participant message. With a live human partner the
// message is queued for delayed delivery; otherwise a witness reply is
// generated and returned after a human-like pause.
func (e *Engine) SubmitTurn(ctx context.Context, id string, req TurnRequest) (*TurnReply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message required", study.ErrInvalidRequest)
	}
	message = html.EscapeString(message)

	sess, err := e.sessions.Recover(ctx, id)
	if err != nil {
		return nil, err
	}
	turn, err := sess.NextTurn(req.Turn)
	if err != nil {
		return nil, err
	}
	if e.sessions.Mode() == study.ModeHumanWitness && sess.MatchStatus == study.MatchPartnerDropped {
		return nil, study.ErrNoPartner
	}
	if e.sessions.Mode() == study.ModeHumanWitness && sess.MatchStatus == study.MatchMatched && sess.MatchedSessionID != "" {
		return e.routeToPartner(ctx, sess, turn, message, req)
	}
	return e.generateReply(ctx, sess, turn, message, req)
}

func (e *Engine) routeToPartner(ctx context.Context, sess *study.Session, turn int, message string, req TurnRequest) (*TurnReply, error) {
	now := e.sessions.Now()
	if !sess.ChatAllowed(now) {
		return nil, study.ErrChatNotReady
	}
	d := e.sampler.PeerDelay(message)
	deliverAt := now.Add(d.Delay)
	t := study.Turn{
		Turn:       turn,
		UserText:   message,
		SenderRole: sess.Role,
		SentAt:     now,
		DeliverAt:  &deliverAt,
		Timing: study.TurnTiming{
			WordCount:              d.Words,
			ArtificialDelaySeconds: d.Delay.Seconds(),
			DelayMedianSeconds:     d.Median,
			DelayStdSeconds:        d.Std,
			CompositionSeconds:     req.CompositionSeconds,
		},
	}
	if _, err := e.sessions.ApplyTurn(ctx, sess.ID, t); err != nil {
		return nil, err
	}
	metricPeerTurns.Add(1)
	log.Info().
		Str("session_id", sess.ID).
		Str("partner_session_id", sess.MatchedSessionID).
		Str("role", string(sess.Role)).
		Int("turn", turn).
		Int("words", d.Words).
		Dur("delay", d.Delay).
		Msg("peer message routed")
	return &TurnReply{
		Turn:                   turn,
		Timestamp:              now,
		HumanPartner:           true,
		MessageRouted:          true,
		ArtificialDelaySeconds: d.Delay.Seconds(),
	}, nil
}

func (e *Engine) generateReply(ctx context.Context, sess *study.Session, turn int, message string, req TurnRequest) (*TurnReply, error) {
	sentAt := e.sessions.Now()
	history := sess.Clone()
	if turn <= history.TurnCount() {
		history.Conversation = history.Conversation[:turn-1]
	}

	started := e.clock()
	res, err := e.generator.Generate(ctx, BuildPrompt(history, message))
	if err != nil {
		return nil, err
	}
	apiTime := e.clock().Sub(started)

	target := e.sampler.ResponseDelay(len(res.Text), len(message))
	sleep := e.sampler.SleepFor(target, apiTime, turn)
	if err := e.sleep(ctx, sleep); err != nil {
		return nil, err
	}

	t := study.Turn{
		Turn:          turn,
		UserText:      message,
		AssistantText: res.Text,
		SentAt:        sentAt,
		Timing: study.TurnTiming{
			APICallSeconds:         apiTime.Seconds(),
			SleepSeconds:           sleep.Seconds(),
			CompositionSeconds:     req.CompositionSeconds,
			TypingIndicatorSeconds: req.TypingIndicatorSeconds,
			RetryAttempts:          res.Retries,
			RetrySeconds:           res.RetryTime.Seconds(),
			Provider:               res.Provider,
			UsedFallback:           res.UsedFallback,
			UsedPlaceholder:        res.UsedPlaceholder,
		},
	}
	if _, err := e.sessions.ApplyTurn(ctx, sess.ID, t); err != nil {
		return nil, err
	}
	metricGeneratedTurns.Add(1)
	log.Info().
		Str("session_id", sess.ID).
		Int("turn", turn).
		Str("provider", res.Provider).
		Int("reply_chars", len(res.Text)).
		Dur("api_time", apiTime).
		Dur("sleep", sleep).
		Msg("witness reply generated")
	return &TurnReply{
		Turn:          turn,
		Timestamp:     e.sessions.Now(),
		AIResponse:    res.Text,
		RetryAttempts: res.Retries,
		RetrySeconds:  res.RetryTime.Seconds(),
	}, nil
}
