package ws

import (
	"context"
	"log/slog"
	"net/http"

	"go.uber.org/fx"
)

// Module provides the Acceptor and binds its listener lifecycle to fx's
// OnStart/OnStop, the shape the teacher's grpcsrv.Module uses for its own
// listener.
var Module = fx.Module("ws",
	fx.Provide(NewAcceptor),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, a *Acceptor, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			errCh, err := a.ListenAndServe()
			if err != nil {
				return err
			}
			go func() {
				if err := <-errCh; err != nil && err != http.ErrServerClosed {
					log.Error("ws acceptor exited", "err", err)
				}
			}()
			return nil
		},
		OnStop: a.Shutdown,
	})
}
