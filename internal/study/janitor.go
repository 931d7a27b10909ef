package study

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

type SweepStats struct {
	StaleMatched    int `json:"stale_matched"`
	Requeued        int `json:"requeued"`
	TimedOut        int `json:"timed_out"`
	StaleWaiting    int `json:"stale_waiting"`
	StalePreConsent int `json:"stale_pre_consent"`
	Errors          int `json:"errors"`
}

var errSkipSweep = errors.New("no longer stale")

func (c *Coordinator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep(ctx)
			}
		}
	}()
}

// Sweep reconciles records no client closed explicitly. Every record is
// written in its own transaction; failures are logged and retried on the
// next sweep.
func (c *Coordinator) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	now := c.now()
	metricJanitorSweeps.Add(1)

	c.sweepStaleMatched(ctx, now, &stats)
	c.sweepStaleWaiting(ctx, now, &stats)
	c.sweepStalePreConsent(ctx, now, &stats)
	c.tryMatch(ctx, "janitor")

	metricJanitorStaleMatched.Add(int64(stats.StaleMatched))
	metricJanitorStaleWaiting.Add(int64(stats.StaleWaiting))
	metricJanitorStalePreConsent.Add(int64(stats.StalePreConsent))
	metricJanitorErrors.Add(int64(stats.Errors))
	if stats != (SweepStats{}) {
		log.Info().
			Int("stale_matched", stats.StaleMatched).
			Int("requeued", stats.Requeued).
			Int("timed_out", stats.TimedOut).
			Int("stale_waiting", stats.StaleWaiting).
			Int("stale_pre_consent", stats.StalePreConsent).
			Int("errors", stats.Errors).
			Msg("janitor sweep")
	}
	return stats
}

func sweepError(stats *SweepStats, err error, sessionID, msg string) {
	stats.Errors++
	log.Error().Err(err).Str("session_id", sessionID).Msg(msg)
}

// sweepStaleMatched requeues pairs that never exchanged a message. A
// processed set keeps the partner from being handled twice in one sweep.
func (c *Coordinator) sweepStaleMatched(ctx context.Context, now time.Time, stats *SweepStats) {
	cutoff := now.Add(-c.cfg.MatchedGrace)
	stale, err := c.repo.ListSessions(ctx, SessionFilter{
		MatchStatuses:   []MatchStatus{MatchMatched},
		ExcludeStatuses: []SessionStatus{StatusAbandoned},
		MatchedBefore:   &cutoff,
	})
	if err != nil {
		sweepError(stats, err, "", "janitor list stale matched failed")
		return
	}
	processed := map[string]bool{}
	for _, s := range stale {
		if processed[s.ID] || s.TurnCount() > 0 {
			continue
		}
		processed[s.ID] = true

		partnerID := s.MatchedSessionID
		if partnerID == "" {
			c.requeueStale(ctx, s.ID, stats)
			continue
		}
		processed[partnerID] = true
		var resS, resP DropoutResult
		_, _, err := c.updatePair(ctx, s.ID, partnerID, func(a, p *Session) error {
			if a.MatchStatus != MatchMatched || a.MatchedSessionID != p.ID || a.TurnCount() > 0 {
				return errSkipSweep
			}
			if p.MatchedSessionID == a.ID && p.MatchStatus == MatchMatched && p.TurnCount() > 0 {
				return errSkipSweep
			}
			var err error
			if resS, err = c.applyRequeue(a, now, ReasonStaleMatchNoMessages); err != nil {
				return err
			}
			if p.MatchedSessionID == a.ID {
				resP, err = c.applyRequeue(p, now, ReasonStaleMatchNoMessages)
			}
			return err
		})
		switch {
		case errors.Is(err, errSkipSweep):
			continue
		case errors.Is(err, ErrSessionNotFound):
			c.requeueStale(ctx, s.ID, stats)
			continue
		case err != nil:
			sweepError(stats, err, s.ID, "janitor requeue stale match failed")
			continue
		}
		stats.StaleMatched++
		for id, res := range map[string]DropoutResult{s.ID: resS, partnerID: resP} {
			countRequeue(stats, res)
			c.afterRequeue(ctx, id, res, ReasonStaleMatchNoMessages)
		}
	}
}

func (c *Coordinator) requeueStale(ctx context.Context, id string, stats *SweepStats) {
	res, err := c.requeueOrTimeout(ctx, id, ReasonStaleMatchNoMessages)
	if err != nil {
		sweepError(stats, err, id, "janitor requeue stale match failed")
		return
	}
	stats.StaleMatched++
	countRequeue(stats, res)
}

func countRequeue(stats *SweepStats, res DropoutResult) {
	if res.Requeued {
		stats.Requeued++
	}
	if res.TimedOut {
		stats.TimedOut++
	}
}

// sweepStaleWaiting times out waiting sessions with no write since the
// grace period. A requeue counts as a write, so a requeued session gets a
// fresh grace period while MaxTotalWait still caps its total wait.
func (c *Coordinator) sweepStaleWaiting(ctx context.Context, now time.Time, stats *SweepStats) {
	cutoff := now.Add(-c.cfg.WaitingGrace)
	stale, err := c.repo.ListSessions(ctx, SessionFilter{
		MatchStatuses:   []MatchStatus{MatchWaiting},
		ExcludeStatuses: []SessionStatus{StatusAbandoned},
		UpdatedBefore:   &cutoff,
	})
	if err != nil {
		sweepError(stats, err, "", "janitor list stale waiting failed")
		return
	}
	for _, s := range stale {
		_, err := c.update(ctx, s.ID, func(s *Session) error {
			if s.MatchStatus != MatchWaiting || !s.LastUpdated.Before(cutoff) {
				return errSkipSweep
			}
			if err := s.TransitionMatch(MatchTimedOut); err != nil {
				return err
			}
			if !s.Status.Terminal() {
				if err := s.TransitionStatus(StatusTimeout); err != nil {
					return err
				}
			}
			s.TimeoutScreen = ScreenCleanupWaitingRoom
			s.ReleaseCounter()
			return nil
		})
		if errors.Is(err, errSkipSweep) {
			continue
		}
		if err != nil {
			sweepError(stats, err, s.ID, "janitor clean stale waiting failed")
			continue
		}
		stats.StaleWaiting++
	}
}

func (c *Coordinator) sweepStalePreConsent(ctx context.Context, now time.Time, stats *SweepStats) {
	cutoff := now.Add(-c.cfg.PreConsentGrace)
	stale, err := c.repo.ListSessions(ctx, SessionFilter{
		Statuses:      []SessionStatus{StatusPreConsent},
		UpdatedBefore: &cutoff,
	})
	if err != nil {
		sweepError(stats, err, "", "janitor list stale pre_consent failed")
		return
	}
	for _, s := range stale {
		_, err := c.update(ctx, s.ID, func(s *Session) error {
			if s.Status != StatusPreConsent || !s.LastUpdated.Before(cutoff) {
				return errSkipSweep
			}
			if err := s.TransitionStatus(StatusAbandoned); err != nil {
				return err
			}
			if !s.MatchStatus.Terminal() {
				if err := s.TransitionMatch(MatchTimedOut); err != nil {
					return err
				}
			}
			s.TimeoutScreen = ScreenCleanupConsent
			s.ReleaseCounter()
			return nil
		})
		if errors.Is(err, errSkipSweep) {
			continue
		}
		if err != nil {
			sweepError(stats, err, s.ID, "janitor clean stale pre_consent failed")
			continue
		}
		stats.StalePreConsent++
	}
}
