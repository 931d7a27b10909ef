package conversation

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"turing-study/internal/config"
)

type delayBucket struct {
	minWords, maxWords int
	median, std        float64
}

// Observed human reply delays by message length, in seconds.
var peerBuckets = []delayBucket{
	{1, 5, 14.8, 5.92},
	{6, 10, 22.9, 8.79},
	{11, 20, 19.4, 8.80},
	{21, 40, 19.1, 4.17},
	{41, math.MaxInt, 19.1, 4.17},
}

var defaultBucket = delayBucket{median: 19.1, std: 4.17}

func bucketFor(words int) delayBucket {
	for _, b := range peerBuckets {
		if words >= b.minWords && words <= b.maxWords {
			return b
		}
	}
	return defaultBucket
}

// WordCount splits on whitespace.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

type PeerDelay struct {
	Delay  time.Duration
	Words  int
	Median float64
	Std    float64
}

// Sampler draws the synthetic response delays. It is safe for concurrent use.
type Sampler struct {
	cfg config.DelayConfig

	mu  sync.Mutex
	src rand.Source
}

func NewSampler(cfg config.DelayConfig, src rand.Source) *Sampler {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Sampler{cfg: cfg, src: src}
}

func (s *Sampler) normal(mu, sigma float64) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: s.src}.Rand()
}

// PeerDelay samples how long a human-written message is held back before
// the partner sees it. The sample is capped at PeerCeiling, then raised to
// PeerFloor.
func (s *Sampler) PeerDelay(message string) PeerDelay {
	words := WordCount(message)
	b := bucketFor(words)

	s.mu.Lock()
	secs := s.normal(b.median, b.std)
	s.mu.Unlock()

	secs = math.Min(secs, s.cfg.PeerCeiling.Seconds())
	secs = math.Max(secs, s.cfg.PeerFloor.Seconds())
	return PeerDelay{Delay: seconds(secs), Words: words, Median: b.median, Std: b.std}
}

// ResponseDelay is the total visible response time for a generated reply:
// a base, per-character typing for the reply, per-character reading for the
// incoming message, and gamma-distributed thinking time.
func (s *Sampler) ResponseDelay(replyChars, messageChars int) time.Duration {
	s.mu.Lock()
	typing := math.Max(0, s.normal(s.cfg.PerCharMean, s.cfg.PerCharStd))
	reading := math.Max(0, s.normal(s.cfg.PerPrevCharMean, s.cfg.PerPrevCharStd))
	thinking := distuv.Gamma{Alpha: s.cfg.ThinkingShape, Beta: 1 / s.cfg.ThinkingScale, Src: s.src}.Rand()
	s.mu.Unlock()

	secs := s.cfg.BaseSeconds + typing*float64(replyChars) + reading*float64(messageChars) + thinking
	return seconds(secs)
}

// SleepFor is the remaining wait once apiTime has already passed. The first
// turn never answers faster than FirstTurnMinimum.
func (s *Sampler) SleepFor(target, apiTime time.Duration, turn int) time.Duration {
	d := target - apiTime
	if turn == 1 && d < s.cfg.FirstTurnMinimum {
		d = s.cfg.FirstTurnMinimum
	}
	return d
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
