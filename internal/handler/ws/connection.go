package ws

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsConnection implements registry.Connection over a single gorilla
// websocket.Conn. gorilla's Conn forbids concurrent writers, so outbound
// frames are serialized through a mutex — the same serialization contract
// the teacher's connect.go gives its sessions, just enforced with a plain
// lock instead of a buffered channel + pump goroutine, since here the
// caller (the worker's fan-out, or the Session Handler itself) already
// blocks on SendText rather than needing a non-blocking handoff.
type wsConnection struct {
	id uuid.UUID

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(conn *websocket.Conn) *wsConnection {
	return &wsConnection{
		id:     uuid.New(),
		conn:   conn,
		closed: make(chan struct{}),
	}
}

func (c *wsConnection) ID() uuid.UUID { return c.id }

// SendText writes one text frame. Concurrent callers are serialized by
// writeMu so frames never interleave and are written in call order per
// sender, as C3 requires.
func (c *wsConnection) SendText(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close is idempotent and best-effort: an already half-closed peer socket
// must not turn into an error the caller has to handle.
func (c *wsConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
