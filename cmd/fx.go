package cmd

import (
	"log/slog"
	"os"

	"go.uber.org/fx"

	"github.com/relaywire/chatrelay/config"
	"github.com/relaywire/chatrelay/internal/handler/ws"
	"github.com/relaywire/chatrelay/internal/registry"
	"github.com/relaywire/chatrelay/internal/service"
	"github.com/relaywire/chatrelay/internal/store"
	"github.com/relaywire/chatrelay/internal/store/duckdb"
)

// NewApp builds the composition root: duckdb.Module provides the bare
// engine as a store.Store, decorated in resilience+caching right here at
// the root (fx.Decorate is scoped to its declaring module and descendants,
// and ws.Module — the only consumer of Store — is a sibling of
// duckdb.Module rather than a descendant, so the decoration has to sit
// above both for it to reach the Acceptor). registry/service/ws sit on top,
// the same module-per-layer shape as the teacher's cmd/fx.go.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		fx.Decorate(store.DecorateWithResilience),
		duckdb.Module,
		registry.Module,
		service.Module,
		ws.Module,
	)
}

// ProvideLogger builds the process-wide *slog.Logger from cfg.LogLevel,
// mirroring the teacher's ProvideLogger.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
