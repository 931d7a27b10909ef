package conversation

import (
	"turing-study/internal/config"
	"turing-study/internal/generation"
	"turing-study/internal/study"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Engine, error) {
		cfg := do.MustInvoke[config.AppConfig](i)
		coord := do.MustInvoke[*study.Coordinator](i)
		gen := do.MustInvoke[generation.Generator](i)
		return NewEngine(coord, gen, NewSampler(cfg.Delay, nil)), nil
	})
}
