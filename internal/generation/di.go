package generation

import (
	"turing-study/internal/config"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (Generator, error) {
		cfg := do.MustInvoke[config.AppConfig](i)
		return NewFromConfig(cfg.Generation)
	})
}
