package presence

import (
	"context"
	"time"

	"turing-study/internal/config"
	"turing-study/internal/study"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
)

const redisInitTimeout = 5 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Tracker, error) {
		cfg := do.MustInvoke[config.AppConfig](i)
		coord := do.MustInvoke[*study.Coordinator](i)
		if cfg.Server.RedisURL == "" {
			return NewTracker(coord, NewMemory(), cfg.Study.TypingWindow), nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), redisInitTimeout)
		defer cancel()
		rdb, err := NewRedisClient(ctx, cfg.Server.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("typing presence backed by redis")
		return NewTracker(coord, NewRedis(rdb), cfg.Study.TypingWindow), nil
	})
}
