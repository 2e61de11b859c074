package duckdb

import (
	"context"

	"go.uber.org/fx"

	"github.com/relaywire/chatrelay/config"
	"github.com/relaywire/chatrelay/internal/store"
)

// Module provides the durable engine as a store.Store and registers its
// Close on fx's OnStop, the same shutdown-hook shape the teacher uses for
// its pubsub/client modules.
var Module = fx.Module("store-duckdb",
	fx.Provide(
		fx.Annotate(
			provideEngine,
			fx.As(new(store.Store)),
		),
	),
)

func provideEngine(lc fx.Lifecycle, cfg *config.Config) (*Engine, error) {
	e, err := New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return e.Close()
		},
	})
	return e, nil
}
