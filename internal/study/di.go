package study

import (
	"turing-study/internal/config"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Coordinator, error) {
		cfg := do.MustInvoke[config.AppConfig](i)
		repo := do.MustInvoke[Repository](i)
		return NewCoordinator(repo, cfg.Study)
	})
}
