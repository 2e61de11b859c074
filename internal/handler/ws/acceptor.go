// Package ws implements the Acceptor (C7): an HTTP/1.1 listener that
// upgrades exactly one path, /ws, to a WebSocket connection and otherwise
// answers 404, optionally wrapped in TLS with certificate hot-reload.
package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/relaywire/chatrelay/config"
	"github.com/relaywire/chatrelay/internal/registry"
	"github.com/relaywire/chatrelay/internal/service"
	"github.com/relaywire/chatrelay/internal/store"
)

// Acceptor owns the TCP listener, the chi router, and the websocket
// upgrader. Its router carries a single route; every other path 404s via
// chi's default NotFound handler.
type Acceptor struct {
	log      *slog.Logger
	registry registry.Registryer
	store    store.Store
	cfg      *config.Config

	router   chi.Router
	upgrader websocket.Upgrader
	server   *http.Server

	cert    atomic.Pointer[tls.Certificate]
	watcher *fsnotify.Watcher
}

// NewAcceptor wires the router; it does not yet bind a socket (see
// ListenAndServe).
func NewAcceptor(log *slog.Logger, reg registry.Registryer, st store.Store, cfg *config.Config) *Acceptor {
	a := &Acceptor{
		log:      log,
		registry: reg,
		store:    st,
		cfg:      cfg,
		router:   chi.NewRouter(),
		upgrader: websocket.Upgrader{},
	}
	a.router.Get("/ws", a.serveWS)
	return a
}

// ListenAndServe binds the configured port and serves until Shutdown is
// called or the listener errors. It returns once the listener is bound;
// the accept loop itself runs in the returned error channel's goroutine.
func (a *Acceptor) ListenAndServe() (<-chan error, error) {
	addr := fmt.Sprintf(":%d", a.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws: listen %s: %w", addr, err)
	}

	a.server = &http.Server{Handler: a.router}
	errCh := make(chan error, 1)

	if a.cfg.TLSEnabled {
		tlsConf, err := a.setupTLS()
		if err != nil {
			ln.Close()
			return nil, err
		}
		a.server.TLSConfig = tlsConf
		go func() {
			errCh <- a.server.ServeTLS(ln, "", "")
		}()
		return errCh, nil
	}

	go func() {
		errCh <- a.server.Serve(ln)
	}()
	return errCh, nil
}

// setupTLS loads the initial certificate and starts an fsnotify watch on
// the cert/key files so a renewed certificate is picked up without a
// restart (a supplemented feature beyond the distilled spec's TLS section).
func (a *Acceptor) setupTLS() (*tls.Config, error) {
	if err := a.reloadCert(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ws: tls watcher: %w", err)
	}
	for _, f := range []string{a.cfg.TLSCertFile, a.cfg.TLSKeyFile} {
		if err := watcher.Add(f); err != nil {
			a.log.Warn("tls hot-reload watch failed, certificate will not auto-renew", "file", f, "err", err)
		}
	}
	a.watcher = watcher
	go a.watchCertChanges()

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return a.cert.Load(), nil
		},
	}, nil
}

func (a *Acceptor) reloadCert() error {
	cert, err := tls.LoadX509KeyPair(a.cfg.TLSCertFile, a.cfg.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("ws: load tls cert: %w", err)
	}
	a.cert.Store(&cert)
	return nil
}

func (a *Acceptor) watchCertChanges() {
	for {
		select {
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := a.reloadCert(); err != nil {
				a.log.Error("tls certificate reload failed, keeping previous certificate", "err", err)
			} else {
				a.log.Info("tls certificate reloaded")
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.log.Warn("tls watcher error", "err", err)
		}
	}
}

// Shutdown stops accepting new connections and closes the TLS watcher.
func (a *Acceptor) Shutdown(ctx context.Context) error {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// serveWS upgrades /ws and runs the Session Handler loop for the lifetime
// of the connection.
func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug("ws upgrade failed", "err", err)
		return
	}

	conn := newConnection(raw)
	a.registry.Attach(conn)
	defer a.registry.Detach(conn)

	sess := service.NewSession(conn, a.registry, a.store, a.log)

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			// TransportError: silent cleanup, no response attempted (§7).
			return
		}
		if sess.Handle(r.Context(), data) {
			return
		}
	}
}
