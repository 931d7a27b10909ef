package study

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"turing-study/internal/config"

	"github.com/rs/zerolog/log"
)

// Coordinator owns the study state machine. The repository is the source
// of truth; the cache only short-circuits recovery of active sessions.
type Coordinator struct {
	repo    Repository
	cfg     config.StudyConfig
	mode    Mode
	cache   *sessionCache
	pending *pendingEvents

	// matchMu serializes pairing decisions only.
	matchMu sync.Mutex

	now   func() time.Time
	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = r }
}

func NewCoordinator(repo Repository, cfg config.StudyConfig, opts ...Option) (*Coordinator, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		repo:    repo,
		cfg:     cfg,
		mode:    mode,
		cache:   newSessionCache(cfg.SessionCacheTTL),
		pending: newPendingEvents(cfg.SessionCacheTTL),
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Coordinator) Mode() Mode {
	return c.mode
}

func (c *Coordinator) Now() time.Time {
	return c.now()
}

// ChatAllowed reports whether s may exchange messages at the coordinator's
// current time.
func (c *Coordinator) ChatAllowed(s *Session) bool {
	return s.ChatAllowed(c.now())
}

func (c *Coordinator) pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return options[c.rng.Intn(len(options))]
}

func (c *Coordinator) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	now := c.now()
	s, err := c.repo.UpdateSession(ctx, id, func(s *Session) error {
		if err := fn(s); err != nil {
			return err
		}
		s.LastUpdated = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.cache.refresh(s)
	return s, nil
}

func (c *Coordinator) updatePair(ctx context.Context, aID, bID string, fn func(a, b *Session) error) (*Session, *Session, error) {
	now := c.now()
	a, b, err := c.repo.UpdatePair(ctx, aID, bID, func(a, b *Session) error {
		if err := fn(a, b); err != nil {
			return err
		}
		a.LastUpdated = now
		b.LastUpdated = now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	c.cache.refresh(a)
	c.cache.refresh(b)
	return a, b, nil
}

// Session reads the durable record without recovery gating.
func (c *Coordinator) Session(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidRequest
	}
	return c.repo.GetSession(ctx, id)
}

func (c *Coordinator) Ping(ctx context.Context) error {
	return c.repo.Ping(ctx)
}

func logSwallowed(err error, sessionID, msg string) {
	if err == nil {
		return
	}
	log.Error().Err(err).Str("session_id", sessionID).Msg(msg)
}
