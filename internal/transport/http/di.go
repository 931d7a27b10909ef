package httptransport

import (
	"turing-study/internal/config"
	"turing-study/internal/conversation"
	"turing-study/internal/mcpserver"
	"turing-study/internal/presence"
	"turing-study/internal/study"

	"github.com/go-chi/chi/v5"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*chi.Mux, error) {
		cfg := do.MustInvoke[config.AppConfig](i)
		mcp := do.MustInvoke[*mcpserver.Server](i)
		return NewRouter(
			cfg.Server,
			do.MustInvoke[*study.Coordinator](i),
			do.MustInvoke[*conversation.Engine](i),
			do.MustInvoke[*presence.Tracker](i),
			mcp.Handler(),
		), nil
	})
}
