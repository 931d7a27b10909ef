package store

import (
	"context"
	"fmt"
	"time"

	"turing-study/internal/config"
	"turing-study/internal/store/memory"
	"turing-study/internal/study"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (study.Repository, error) {
		cfg := do.MustInvoke[config.AppConfig](i)
		if cfg.Server.StoreDriver == config.StoreDriverMemory {
			log.Warn().Msg("using in-memory store, sessions will not survive a restart")
			return memory.New(), nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		st, err := New(cfg.Server.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("store init: %w", err)
		}
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		return st, nil
	})
}
