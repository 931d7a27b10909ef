package generation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Placeholder is returned when every provider failed.
const Placeholder = "I literally don't know how to respond to that"

// Result describes how a reply was produced.
type Result struct {
	Text            string
	Provider        string
	Attempts        int
	Retries         int
	RetryTime       time.Duration
	UsedFallback    bool
	UsedPlaceholder bool
}

// Generator is what the turn engine depends on.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}

// Resilient retries the primary provider with exponential backoff, then the
// fallback, then answers with Placeholder. It only fails when ctx ends.
type Resilient struct {
	primary     Provider
	fallback    Provider
	maxTries    uint
	baseDelay   time.Duration
	callTimeout time.Duration
}

type ResilientOption func(*Resilient)

func WithMaxTries(n uint) ResilientOption {
	return func(r *Resilient) { r.maxTries = n }
}

func WithBaseDelay(d time.Duration) ResilientOption {
	return func(r *Resilient) { r.baseDelay = d }
}

func WithCallTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) { r.callTimeout = d }
}

func NewResilient(primary, fallback Provider, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		primary:   primary,
		fallback:  fallback,
		maxTries:  3,
		baseDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxTries == 0 {
		r.maxTries = 1
	}
	if r.baseDelay <= 0 {
		r.baseDelay = 500 * time.Millisecond
	}
	return r
}

var _ Generator = (*Resilient)(nil)

func (r *Resilient) Generate(ctx context.Context, prompt string) (Result, error) {
	metricRequests.Add(1)
	var res Result

	primaryErr := errNoProvider
	if r.primary != nil {
		text, err := r.try(ctx, r.primary, prompt, &res)
		if err == nil {
			res.Text, res.Provider = text, r.primary.Name()
			return res, nil
		}
		primaryErr = err
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	fallbackErr := errNoProvider
	if r.fallback != nil {
		log.Warn().Err(primaryErr).Str("provider", r.fallback.Name()).Msg("primary model failed, trying fallback")
		metricFallback.Add(1)
		res.UsedFallback = true
		text, err := r.try(ctx, r.fallback, prompt, &res)
		if err == nil {
			res.Text, res.Provider = text, r.fallback.Name()
			return res, nil
		}
		fallbackErr = err
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	metricPlaceholder.Add(1)
	log.Error().
		AnErr("primary_error", primaryErr).
		AnErr("fallback_error", fallbackErr).
		Int("attempts", res.Attempts).
		Msg("all models failed, using placeholder reply")
	res.Text = Placeholder
	res.UsedPlaceholder = true
	return res, nil
}

func (r *Resilient) try(ctx context.Context, p Provider, prompt string, res *Result) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = 8 * r.baseDelay

	op := func() (string, error) {
		res.Attempts++
		callCtx := ctx
		if r.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
			defer cancel()
		}
		text, err := p.Generate(callCtx, prompt)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	notify := func(err error, wait time.Duration) {
		res.Retries++
		res.RetryTime += wait
		metricRetries.Add(1)
		log.Warn().Err(err).Str("provider", p.Name()).Dur("backoff", wait).Msg("retryable model error")
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(notify),
	)
}
