package conversation_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turing-study/internal/config"
	"turing-study/internal/conversation"
	"turing-study/internal/generation"
	"turing-study/internal/store/memory"
	"turing-study/internal/study"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGenerator struct {
	result  generation.Result
	err     error
	prompts []string
	clock   *clock
	took    time.Duration
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (generation.Result, error) {
	g.prompts = append(g.prompts, prompt)
	if g.clock != nil {
		g.clock.Advance(g.took)
	}
	return g.result, g.err
}

type recordingSleep struct {
	slept []time.Duration
	err   error
}

func (s *recordingSleep) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return s.err
}

func delayConfig() config.DelayConfig {
	return config.DelayConfig{
		BaseSeconds:      1.5,
		PerCharMean:      0.1,
		PerCharStd:       0.005,
		PerPrevCharMean:  0.015,
		PerPrevCharStd:   0.001,
		ThinkingShape:    2.5,
		ThinkingScale:    0.4,
		FirstTurnMinimum: 7 * time.Second,
		PeerFloor:        5 * time.Second,
		PeerCeiling:      23 * time.Second,
	}
}

type fixture struct {
	coord  *study.Coordinator
	repo   *memory.Repository
	clock  *clock
	gen    *fakeGenerator
	sleep  *recordingSleep
	engine *conversation.Engine
}

func newFixture(t *testing.T, mode study.Mode) *fixture {
	t.Helper()
	f := &fixture{
		repo:  memory.New(),
		clock: &clock{now: t0},
		sleep: &recordingSleep{},
	}
	f.gen = &fakeGenerator{
		result: generation.Result{Text: "haha yeah, pretty chill day", Provider: "gemini:test"},
		clock:  f.clock,
		took:   2 * time.Second,
	}
	coord, err := study.NewCoordinator(f.repo, config.StudyConfig{
		Mode:                  string(mode),
		MaxTotalWait:          240 * time.Second,
		ReadDelay:             10 * time.Second,
		MatchedGrace:          2 * time.Minute,
		WaitingGrace:          2 * time.Minute,
		PreConsentGrace:       3 * time.Minute,
		ForcedCompletionAfter: 7*time.Minute + 30*time.Second,
		ExcessiveNetworkDelay: 40 * time.Second,
		SessionCacheTTL:       time.Hour,
		SocialStyles:          []string{"WARM"},
		Personas:              []string{"custom_extrovert"},
		Domains:               []string{"general"},
	}, study.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.coord = coord
	f.engine = conversation.NewEngine(coord, f.gen,
		conversation.NewSampler(delayConfig(), rand.NewPCG(1, 2)),
		conversation.WithSleep(f.sleep.Sleep),
		conversation.WithClock(f.clock.Now),
	)
	return f
}

func (f *fixture) start(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.coord.AssignRole(ctx, study.AssignRoleRequest{ParticipantID: id})
	require.NoError(t, err)
	_, err = f.coord.Initialize(ctx, id, study.InitializeRequest{})
	require.NoError(t, err)
}

func (f *fixture) session(t *testing.T, id string) *study.Session {
	t.Helper()
	s, err := f.repo.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (f *fixture) matchPair(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	f.start(t, "i1")
	f.start(t, "w1")
	_, err := f.coord.JoinWaitingRoom(ctx, "i1")
	require.NoError(t, err)
	f.clock.Advance(5 * time.Second)
	v, err := f.coord.JoinWaitingRoom(ctx, "w1")
	require.NoError(t, err)
	require.True(t, v.Matched)
	return "i1", "w1"
}

func TestGeneratedTurnStoresReplyAndTiming(t *testing.T) {
	f := newFixture(t, study.ModeAIWitness)
	f.start(t, "p1")

	reply, err := f.engine.SubmitTurn(context.Background(), "p1", conversation.TurnRequest{
		Message:            "hey, how is your day going?",
		CompositionSeconds: 4.2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Turn)
	assert.False(t, reply.HumanPartner)
	assert.Equal(t, "haha yeah, pretty chill day", reply.AIResponse)

	require.Len(t, f.sleep.slept, 1)
	assert.GreaterOrEqual(t, f.sleep.slept[0], 7*time.Second, "first turn is padded")

	s := f.session(t, "p1")
	require.Equal(t, 1, s.TurnCount())
	turn := s.Conversation[0]
	assert.Equal(t, "hey, how is your day going?", turn.UserText)
	assert.Equal(t, "haha yeah, pretty chill day", turn.AssistantText)
	assert.InDelta(t, 2.0, turn.Timing.APICallSeconds, 1e-9)
	assert.InDelta(t, f.sleep.slept[0].Seconds(), turn.Timing.SleepSeconds, 1e-9)
	assert.InDelta(t, 4.2, turn.Timing.CompositionSeconds, 1e-9)
	assert.Equal(t, "gemini:test", turn.Timing.Provider)
	assert.Contains(t, f.gen.prompts[0], "Them: hey, how is your day going?")
}

func TestGeneratedTurnRetryOverwritesInPlace(t *testing.T) {
	f := newFixture(t, study.ModeAIWitness)
	f.start(t, "p1")
	ctx := context.Background()

	_, err := f.engine.SubmitTurn(ctx, "p1", conversation.TurnRequest{Message: "hi"})
	require.NoError(t, err)
	_, err = f.engine.SubmitTurn(ctx, "p1", conversation.TurnRequest{Message: "what do you do?"})
	require.NoError(t, err)

	f.gen.result.Text = "i teach piano"
	reply, err := f.engine.SubmitTurn(ctx, "p1", conversation.TurnRequest{Message: "what do you do?", Turn: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, reply.Turn)

	s := f.session(t, "p1")
	require.Equal(t, 2, s.TurnCount())
	assert.Equal(t, "i teach piano", s.Conversation[1].AssistantText)
	assert.NotContains(t, f.gen.prompts[2], "Them: what do you do?\nYou: haha", "retried turn is not in its own history")

	_, err = f.engine.SubmitTurn(ctx, "p1", conversation.TurnRequest{Message: "skip", Turn: 4})
	require.ErrorIs(t, err, study.ErrInvalidTurn)
}

func TestGeneratedTurnKeepsPlaceholder(t *testing.T) {
	f := newFixture(t, study.ModeAIWitness)
	f.start(t, "p1")
	f.gen.result = generation.Result{Text: generation.Placeholder, UsedPlaceholder: true, UsedFallback: true, Retries: 4}

	reply, err := f.engine.SubmitTurn(context.Background(), "p1", conversation.TurnRequest{Message: "hello?"})
	require.NoError(t, err)
	assert.Equal(t, generation.Placeholder, reply.AIResponse)
	assert.Equal(t, 4, reply.RetryAttempts)

	timing := f.session(t, "p1").Conversation[0].Timing
	assert.True(t, timing.UsedPlaceholder)
	assert.True(t, timing.UsedFallback)
}

func TestGeneratedTurnCanceled(t *testing.T) {
	f := newFixture(t, study.ModeAIWitness)
	f.start(t, "p1")

	f.sleep.err = context.Canceled
	_, err := f.engine.SubmitTurn(context.Background(), "p1", conversation.TurnRequest{Message: "hello"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.session(t, "p1").TurnCount())

	f.sleep.err = nil
	f.gen.err = context.DeadlineExceeded
	_, err = f.engine.SubmitTurn(context.Background(), "p1", conversation.TurnRequest{Message: "hello"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.session(t, "p1").TurnCount())
}

func TestSubmitTurnValidation(t *testing.T) {
	f := newFixture(t, study.ModeAIWitness)
	_, err := f.engine.SubmitTurn(context.Background(), "p1", conversation.TurnRequest{Message: "   "})
	require.ErrorIs(t, err, study.ErrInvalidRequest)

	_, err = f.engine.SubmitTurn(context.Background(), "ghost", conversation.TurnRequest{Message: "hi"})
	require.ErrorIs(t, err, study.ErrSessionNotFound)
}

func TestSubmitTurnEscapesMarkup(t *testing.T) {
	f := newFixture(t, study.ModeAIWitness)
	f.start(t, "p1")
	_, err := f.engine.SubmitTurn(context.Background(), "p1", conversation.TurnRequest{Message: "<b>hi</b>"})
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", f.session(t, "p1").Conversation[0].UserText)
}

func TestPeerTurnIsRoutedWithDelay(t *testing.T) {
	f := newFixture(t, study.ModeHumanWitness)
	i, w := f.matchPair(t)
	ctx := context.Background()

	_, err := f.engine.SubmitTurn(ctx, i, conversation.TurnRequest{Message: "hello there"})
	require.ErrorIs(t, err, study.ErrChatNotReady)

	f.clock.Advance(10 * time.Second)
	reply, err := f.engine.SubmitTurn(ctx, i, conversation.TurnRequest{Message: "hello there, who are you"})
	require.NoError(t, err)
	assert.True(t, reply.HumanPartner)
	assert.True(t, reply.MessageRouted)
	assert.Equal(t, 1, reply.Turn)
	assert.GreaterOrEqual(t, reply.ArtificialDelaySeconds, 5.0)
	assert.LessOrEqual(t, reply.ArtificialDelaySeconds, 23.0)
	assert.Empty(t, f.gen.prompts, "peer turns never reach the model")
	assert.Empty(t, f.sleep.slept, "peer turns do not block the sender")

	stored := f.session(t, i).Conversation[0]
	assert.Equal(t, study.RoleInterrogator, stored.SenderRole)
	assert.Equal(t, 5, stored.Timing.WordCount)
	assert.InDelta(t, 14.8, stored.Timing.DelayMedianSeconds, 1e-9)
	require.NotNil(t, stored.DeliverAt)
	assert.WithinRange(t, *stored.DeliverAt, f.clock.Now().Add(5*time.Second), f.clock.Now().Add(23*time.Second))

	_, err = f.engine.SubmitTurn(ctx, w, conversation.TurnRequest{Message: "me first"})
	require.ErrorIs(t, err, study.ErrInvalidTurn, "witness cannot author turn 1")

	msg, err := f.coord.PollPartnerMessage(ctx, w)
	require.NoError(t, err)
	assert.True(t, msg.PartnerTyping)

	f.clock.Advance(23 * time.Second)
	msg, err = f.coord.PollPartnerMessage(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "hello there, who are you", msg.MessageText)

	reply, err = f.engine.SubmitTurn(ctx, w, conversation.TurnRequest{Message: "just a person"})
	require.NoError(t, err)
	assert.Equal(t, 2, reply.Turn)
}

func TestPeerTurnAfterPartnerDropped(t *testing.T) {
	f := newFixture(t, study.ModeHumanWitness)
	i, w := f.matchPair(t)
	require.NoError(t, f.coord.ReportAbandonment(context.Background(), study.AbandonRequest{SessionID: w}))

	_, err := f.engine.SubmitTurn(context.Background(), i, conversation.TurnRequest{Message: "hello?"})
	require.ErrorIs(t, err, study.ErrNoPartner)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := conversation.Sleep(ctx, time.Hour)
	require.True(t, errors.Is(err, context.Canceled))
	require.NoError(t, conversation.Sleep(context.Background(), 0))
	require.NoError(t, conversation.Sleep(context.Background(), time.Millisecond))
}
