package registry

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaywire/chatrelay/internal/codec"
)

// drainBurst bounds how many events a worker delivers in one wake before
// yielding back to select, the same batch-draining trade-off as the
// teacher's Cell.loop (smooths bursts without starving the scheduler).
const drainBurst = 64

// sendTimeout bounds how long fan-out waits on one subscriber before moving
// on to the rest, mirroring the teacher's per-session delivery window.
const sendTimeout = 250 * time.Millisecond

// outboundEvent pairs an Event with the subscriber snapshot Publish resolved
// at enqueue time. The worker fans out to exactly this list rather than
// re-querying the registry's live subscriber set at delivery time, which
// would let a connection that subscribes while this event is still sitting
// in the mailbox receive it twice (once live, once via its own backlog
// catch-up read — see Registry.Publish's doc comment).
type outboundEvent struct {
	ev      Event
	targets []Connection
}

// worker is the per-queue pipeline (C5): one goroutine, one bounded mailbox,
// fanning each event out to the subscriber snapshot it was enqueued with.
// Unlike the teacher's Cell (which owns its own subscriber map and drops
// events on a full mailbox), a worker here holds no subscriber state of its
// own — Registry is the single authority for queue_subs — and Publish
// blocks rather than drops, since a durably-stored message losing its live
// delivery would make the system less useful than just applying
// backpressure to the publisher.
type worker struct {
	qid      []byte
	mailbox  chan outboundEvent
	doneCh   chan struct{}
	inflight int32 // atomic: Publish calls currently sending into mailbox

	registry *Registry
	log      *slog.Logger
}

func newWorker(qid []byte, bufSize int, reg *Registry, log *slog.Logger) *worker {
	w := &worker{
		qid:      append([]byte(nil), qid...),
		mailbox:  make(chan outboundEvent, bufSize),
		doneCh:   make(chan struct{}),
		registry: reg,
		log:      log,
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	for {
		select {
		case <-w.doneCh:
			return
		case item := <-w.mailbox:
			w.deliver(item)
			for range drainBurst - 1 {
				select {
				case next := <-w.mailbox:
					w.deliver(next)
				default:
					goto drained
				}
			}
		drained:
			w.registry.tryRetire(w.qid)
		}
	}
}

// deliver fans the event out concurrently to the subscriber snapshot Publish
// resolved at enqueue time. A per-subscriber send failure is logged and
// never aborts the rest of the batch (§4.5, §7 propagation policy).
func (w *worker) deliver(item outboundEvent) {
	if len(item.targets) == 0 {
		return
	}

	data := marshalEventNew(w.qid, item.ev)
	var g errgroup.Group
	for _, conn := range item.targets {
		conn := conn
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := conn.SendText(ctx, data); err != nil {
				w.log.Warn("queue fan-out send failed",
					"qid", string(w.qid), "conn", conn.ID(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func marshalEventNew(qid []byte, ev Event) []byte {
	return codec.MarshalEventNew(codec.Message{
		Nonce:     ev.Nonce,
		QueueID:   codec.Encode(qid),
		Signature: codec.Encode(ev.Signature),
		Content:   codec.Encode(ev.Content),
		ContentIV: codec.Encode(ev.ContentIV),
	})
}

// publish hands item to the worker, blocking until there is room in the
// mailbox. It returns false if the worker has already been retired by the
// Registry, signalling the caller to obtain (or spawn) a fresh one.
func (w *worker) publish(item outboundEvent) bool {
	select {
	case w.mailbox <- item:
		return true
	case <-w.doneCh:
		return false
	}
}
