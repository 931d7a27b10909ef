package mcpserver

import (
	"turing-study/internal/study"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		return New(do.MustInvoke[*study.Coordinator](i)), nil
	})
}
