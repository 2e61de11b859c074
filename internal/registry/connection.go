package registry

import (
	"context"

	"github.com/google/uuid"
)

// Connection is the transport-agnostic sink a Session Handler hands to the
// Registry on attach. Implementations (internal/handler/ws) own a single
// serialized outbound writer; SendText must be safe to call concurrently
// from the worker's fan-out goroutines and still write frames one at a
// time, in call order per sender.
type Connection interface {
	ID() uuid.UUID
	SendText(ctx context.Context, data []byte) error
	Close() error
}

// Event is one pending delivery for a queue: a freshly appended message
// waiting to be fanned out to current subscribers as event/new.
type Event struct {
	Nonce     uint64
	Signature []byte
	Content   []byte
	ContentIV []byte
}
