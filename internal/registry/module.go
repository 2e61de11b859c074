package registry

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

// Module provides the Registry and wires its Shutdown into fx's OnStop,
// mirroring the teacher's registry/module.go (fx.Provide + fx.Annotate into
// the exported interface).
var Module = fx.Module("registry",
	fx.Provide(
		provideRegistry,
		fx.Annotate(
			func(r *Registry) Registryer { return r },
			fx.As(new(Registryer)),
		),
	),
)

func provideRegistry(lc fx.Lifecycle, log *slog.Logger) *Registry {
	r := NewRegistry(log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			r.Shutdown()
			return nil
		},
	})
	return r
}
