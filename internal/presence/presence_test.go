package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turing-study/internal/config"
	"turing-study/internal/study"
)

type stubSessions map[string]*study.Session

func (s stubSessions) Recover(_ context.Context, id string) (*study.Session, error) {
	sess, ok := s[id]
	if !ok {
		return nil, study.ErrSessionNotFound
	}
	return sess, nil
}

func pairedSessions() stubSessions {
	a := study.NewSession("a", "", time.Time{})
	b := study.NewSession("b", "", time.Time{})
	solo := study.NewSession("solo", "", time.Time{})
	a.MatchedSessionID, b.MatchedSessionID = "b", "a"
	return stubSessions{"a": a, "b": b, "solo": solo}
}

type failingBackend struct{}

func (failingBackend) Touch(context.Context, string, time.Duration) error { return errors.New("down") }
func (failingBackend) Active(context.Context, string) (bool, error)       { return false, errors.New("down") }

func exercise(t *testing.T, backend Backend) {
	t.Helper()
	ctx := context.Background()
	tr := NewTracker(pairedSessions(), backend, 200*time.Millisecond)

	typing, err := tr.PartnerTyping(ctx, "a")
	require.NoError(t, err)
	assert.False(t, typing)

	require.NoError(t, tr.Signal(ctx, "b"))
	typing, err = tr.PartnerTyping(ctx, "a")
	require.NoError(t, err)
	assert.True(t, typing)

	typing, err = tr.PartnerTyping(ctx, "b")
	require.NoError(t, err)
	assert.False(t, typing, "own signal is not partner typing")

	typing, err = tr.PartnerTyping(ctx, "solo")
	require.NoError(t, err)
	assert.False(t, typing)

	assert.Eventually(t, func() bool {
		typing, err := tr.PartnerTyping(ctx, "a")
		return err == nil && !typing
	}, 2*time.Second, 50*time.Millisecond)

	require.ErrorIs(t, tr.Signal(ctx, "ghost"), study.ErrSessionNotFound)
	_, err = tr.PartnerTyping(ctx, "ghost")
	require.ErrorIs(t, err, study.ErrSessionNotFound)
}

func TestMemoryTracker(t *testing.T) {
	exercise(t, NewMemory())
}

func TestRedisTracker(t *testing.T) {
	cfg, err := config.LoadTestRedis()
	if err != nil {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, cfg.TestRedisURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rdb.Del(ctx, keyPrefix+"a", keyPrefix+"b").Err()
		_ = rdb.Close()
	})
	exercise(t, NewRedis(rdb))
}

func TestPartnerTypingSwallowsBackendErrors(t *testing.T) {
	tr := NewTracker(pairedSessions(), failingBackend{}, 0)
	typing, err := tr.PartnerTyping(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, typing)
	require.Error(t, tr.Signal(context.Background(), "a"))
}
