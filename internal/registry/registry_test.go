package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeConn is a minimal in-memory Connection that records every frame it
// receives, used across the registry/worker test suite.
type fakeConn struct {
	id uuid.UUID

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn() *fakeConn { return &fakeConn{id: uuid.New()} }

func (c *fakeConn) ID() uuid.UUID { return c.id }

func (c *fakeConn) SendText(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), data...)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestRegistry_SubscribeBiMapInvariant(t *testing.T) {
	r := NewRegistry(testLogger())
	conn := newFakeConn()
	r.Attach(conn)

	qid := []byte("foo")
	if isNew := r.Subscribe(conn, qid); !isNew {
		t.Fatalf("expected first subscribe to report new")
	}
	if again := r.Subscribe(conn, qid); again {
		t.Fatalf("expected repeat subscribe to report not-new")
	}

	subs := r.Subscribers(qid)
	if len(subs) != 1 || subs[0].ID() != conn.ID() {
		t.Fatalf("expected conn in subscribers, got %v", subs)
	}

	r.mu.Lock()
	_, inConnSubs := r.connSubs[conn.ID()][qidKey(qid)]
	_, inQueueSubs := r.queueSubs[qidKey(qid)][conn.ID()]
	r.mu.Unlock()
	if !inConnSubs || !inQueueSubs {
		t.Fatalf("bi-map out of sync: connSubs=%v queueSubs=%v", inConnSubs, inQueueSubs)
	}

	r.Unsubscribe(conn, qid)

	r.mu.Lock()
	_, stillInConnSubs := r.connSubs[conn.ID()][qidKey(qid)]
	_, stillInQueueSubs := r.queueSubs[qidKey(qid)][conn.ID()]
	r.mu.Unlock()
	if stillInConnSubs || stillInQueueSubs {
		t.Fatalf("bi-map not cleared after unsubscribe")
	}
}

func TestRegistry_DetachRemovesFromEveryQueue(t *testing.T) {
	r := NewRegistry(testLogger())
	conn := newFakeConn()
	r.Attach(conn)
	r.Subscribe(conn, []byte("bar"))
	r.Subscribe(conn, []byte("baz"))

	r.Detach(conn)

	if len(r.Subscribers([]byte("bar"))) != 0 || len(r.Subscribers([]byte("baz"))) != 0 {
		t.Fatalf("detach left subscriptions behind")
	}
	r.mu.Lock()
	_, stillTracked := r.connSubs[conn.ID()]
	r.mu.Unlock()
	if stillTracked {
		t.Fatalf("detach left a conn_subs entry behind")
	}
	if !conn.closed {
		t.Fatalf("detach did not close the connection")
	}
}

func TestRegistry_PublishWithoutSubscribersDoesNotSpawnWorker(t *testing.T) {
	r := NewRegistry(testLogger())
	qid := []byte("nobody-listening")

	r.Publish(qid, Event{Nonce: 1, Content: []byte("x")})

	if _, ok := r.workers.Load(qidKey(qid)); ok {
		t.Fatalf("expected no worker to be spawned for a queue with no subscribers")
	}
}

func TestRegistry_FanOutOrderedPerSubscriber(t *testing.T) {
	r := NewRegistry(testLogger())
	qid := []byte("ordered")
	conn := newFakeConn()
	r.Attach(conn)
	r.Subscribe(conn, qid)

	for n := uint64(1); n <= 5; n++ {
		r.Publish(qid, Event{Nonce: n, Content: []byte("x")})
	}

	waitFor(t, time.Second, func() bool { return conn.received() == 5 })

	conn.mu.Lock()
	defer conn.mu.Unlock()
	for i, frame := range conn.frames {
		var env struct {
			Response struct {
				Message struct {
					Nonce uint64 `json:"nonce"`
				} `json:"message"`
			} `json:"response"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("frame %d is not valid JSON: %v", i, err)
		}
		if want := uint64(i + 1); env.Response.Message.Nonce != want {
			t.Fatalf("frame %d carries nonce %d, want %d", i, env.Response.Message.Nonce, want)
		}
	}
}

func TestRegistry_WorkerRetiresWhenEmpty(t *testing.T) {
	r := NewRegistry(testLogger(), WithEvictionInterval(10*time.Millisecond))
	qid := []byte("transient")
	conn := newFakeConn()
	r.Attach(conn)
	r.Subscribe(conn, qid)

	if _, ok := r.workers.Load(qidKey(qid)); !ok {
		t.Fatalf("expected a worker to exist after subscribe")
	}

	r.Unsubscribe(conn, qid)

	waitFor(t, time.Second, func() bool {
		_, ok := r.workers.Load(qidKey(qid))
		return !ok
	})
}

func TestRegistry_LateSubscribeRespawnsWorker(t *testing.T) {
	r := NewRegistry(testLogger())
	qid := []byte("respawn")
	first := newFakeConn()
	r.Attach(first)
	r.Subscribe(first, qid)
	r.Unsubscribe(first, qid)

	waitFor(t, time.Second, func() bool {
		_, ok := r.workers.Load(qidKey(qid))
		return !ok
	})

	second := newFakeConn()
	r.Attach(second)
	r.Subscribe(second, qid)
	r.Publish(qid, Event{Nonce: 1, Content: []byte("x")})

	waitFor(t, time.Second, func() bool { return second.received() == 1 })
}

func TestRegistry_MultiSubscriberFanOut(t *testing.T) {
	r := NewRegistry(testLogger())
	qid := []byte("multi")
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		r.Attach(c)
		r.Subscribe(c, qid)
	}

	for n := uint64(1); n <= 5; n++ {
		r.Publish(qid, Event{Nonce: n, Content: []byte("x")})
	}

	for _, c := range conns {
		c := c
		waitFor(t, time.Second, func() bool { return c.received() == 5 })
	}
}

func TestWorker_DeliversOnlyToEnqueueTimeSnapshot(t *testing.T) {
	r := NewRegistry(testLogger())
	qid := []byte("fixed-targets")
	targeted := newFakeConn()
	notTargeted := newFakeConn()
	r.Attach(targeted)
	r.Attach(notTargeted)

	w := newWorker(qid, 4, r, testLogger())
	defer close(w.doneCh)

	if !w.publish(outboundEvent{ev: Event{Nonce: 1}, targets: []Connection{targeted}}) {
		t.Fatalf("expected publish to succeed against a live worker")
	}

	waitFor(t, time.Second, func() bool { return targeted.received() == 1 })
	if notTargeted.received() != 0 {
		t.Fatalf("worker must deliver only to the snapshot passed at enqueue time, got %d deliveries to an untargeted conn", notTargeted.received())
	}
}

func TestRegistry_WorkerBufferSizeBoundsMailbox(t *testing.T) {
	r := NewRegistry(testLogger(), WithWorkerBufferSize(2))
	qid := []byte("bounded")
	conn := newFakeConn()
	r.Attach(conn)
	r.Subscribe(conn, qid)

	v, ok := r.workers.Load(qidKey(qid))
	if !ok {
		t.Fatalf("expected a worker to exist after subscribe")
	}
	w := v.(*worker)
	if cap(w.mailbox) != 2 {
		t.Fatalf("expected WithWorkerBufferSize(2) to size the mailbox to 2, got %d", cap(w.mailbox))
	}
}

func TestRegistry_LockSerializesSameQueue(t *testing.T) {
	r := NewRegistry(testLogger())
	qid := []byte("locked")

	unlock := r.Lock(qid)
	acquired := make(chan struct{})
	go func() {
		u := r.Lock(qid)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatalf("a second Lock on the same qid must not acquire while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	waitFor(t, time.Second, func() bool {
		select {
		case <-acquired:
			return true
		default:
			return false
		}
	})
}
