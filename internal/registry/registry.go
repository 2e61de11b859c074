package registry

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Registryer is the external API of the Registry (C4), mirroring the
// teacher's Hubber interface shape.
type Registryer interface {
	Attach(conn Connection)
	Detach(conn Connection)
	Subscribe(conn Connection, qid []byte) bool
	Unsubscribe(conn Connection, qid []byte)
	Subscribers(qid []byte) []Connection
	Publish(qid []byte, ev Event)
	// Lock serializes a queue's callers against each other across a
	// multi-step operation that must not interleave with Publish's
	// subscriber snapshot (a Send's Append+Publish, or a Subscribe's
	// backlog-bound read). Call the returned func to release.
	Lock(qid []byte) func()
	Shutdown()
}

// lockStripes bounds the number of distinct per-qid locks; qids hash down
// onto a fixed stripe instead of growing a lock per queue forever.
const lockStripes = 256

// Registry is the single authority over the connection<->queue bi-map and
// the live queue-worker table. The bi-map is protected by a coarse mutex
// (acceptable per the concurrency model; per-qid sharding is an
// optimization this implementation doesn't need yet). The worker table
// itself is a sync.Map, the same choice the teacher's Hub makes for its
// user-cell table, since workers are looked up far more often than the set
// of live queues changes.
type Registry struct {
	mu        sync.Mutex
	connSubs  map[uuid.UUID]map[string]struct{}   // connID -> set of qid keys
	queueSubs map[string]map[uuid.UUID]Connection // qid key -> connID -> Connection
	conns     map[uuid.UUID]Connection

	workers sync.Map // qid key (string) -> *worker

	qidLocks [lockStripes]sync.Mutex

	workerBufferSize int
	evictionInterval time.Duration
	stopCh           chan struct{}
	log              *slog.Logger
}

var _ Registryer = (*Registry)(nil)

// NewRegistry builds a Registry with the given functional options and
// starts the idle-queue janitor, mirroring the teacher's NewHub.
func NewRegistry(log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		connSubs:         make(map[uuid.UUID]map[string]struct{}),
		queueSubs:        make(map[string]map[uuid.UUID]Connection),
		conns:            make(map[uuid.UUID]Connection),
		workerBufferSize: 64,
		evictionInterval: time.Minute,
		stopCh:           make(chan struct{}),
		log:              log,
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.runJanitor()
	return r
}

func qidKey(qid []byte) string { return string(qid) }

func stripeFor(qid []byte) uint32 {
	h := fnv.New32a()
	h.Write(qid)
	return h.Sum32() % lockStripes
}

// Lock acquires qid's stripe and returns the unlock func. Holding it across
// a Send's Append+Publish (or a Subscribe's Subscribe+HighWater read)
// prevents two concurrent operations on the same queue from landing their
// store commit and their subscriber snapshot out of order (§4.5, §4.6).
func (r *Registry) Lock(qid []byte) func() {
	idx := stripeFor(qid)
	r.qidLocks[idx].Lock()
	return r.qidLocks[idx].Unlock
}

// Attach registers a freshly upgraded connection with the registry.
func (r *Registry) Attach(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	if _, ok := r.connSubs[conn.ID()]; !ok {
		r.connSubs[conn.ID()] = make(map[string]struct{})
	}
}

// Detach unsubscribes conn from every queue it was subscribed to, then
// closes it. Idempotent and best-effort: an already half-closed transport
// is not an error.
func (r *Registry) Detach(conn Connection) {
	r.mu.Lock()
	qids := make([]string, 0, len(r.connSubs[conn.ID()]))
	for qk := range r.connSubs[conn.ID()] {
		qids = append(qids, qk)
	}
	r.mu.Unlock()

	for _, qk := range qids {
		r.Unsubscribe(conn, []byte(qk))
	}

	r.mu.Lock()
	delete(r.connSubs, conn.ID())
	delete(r.conns, conn.ID())
	r.mu.Unlock()

	_ = conn.Close()
}

// Subscribe adds both sides of the bi-map and lazily spawns a worker for
// qid if none is live. Returns true if this is a new subscription for conn.
func (r *Registry) Subscribe(conn Connection, qid []byte) bool {
	qk := qidKey(qid)

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.connSubs[conn.ID()]
	if !ok {
		subs = make(map[string]struct{})
		r.connSubs[conn.ID()] = subs
	}
	if _, already := subs[qk]; already {
		return false
	}
	subs[qk] = struct{}{}

	queue, ok := r.queueSubs[qk]
	if !ok {
		queue = make(map[uuid.UUID]Connection)
		r.queueSubs[qk] = queue
	}
	queue[conn.ID()] = conn

	r.getOrSpawnWorkerLocked(qid)
	return true
}

// Unsubscribe removes both sides of the bi-map. If the queue's subscriber
// set becomes empty, the worker is signaled to drain-then-terminate.
func (r *Registry) Unsubscribe(conn Connection, qid []byte) {
	qk := qidKey(qid)

	r.mu.Lock()
	if subs, ok := r.connSubs[conn.ID()]; ok {
		delete(subs, qk)
	}
	if queue, ok := r.queueSubs[qk]; ok {
		delete(queue, conn.ID())
		if len(queue) == 0 {
			delete(r.queueSubs, qk)
		}
	}
	r.mu.Unlock()

	r.tryRetire(qid)
}

// Subscribers returns a point-in-time snapshot safe to range over without
// holding registry locks.
func (r *Registry) Subscribers(qid []byte) []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.queueSubs[qidKey(qid)]
	out := make([]Connection, 0, len(queue))
	for _, conn := range queue {
		out = append(out, conn)
	}
	return out
}

// Publish enqueues ev for qid's worker, spawning one only if the queue
// currently has subscribers (§4.6: "if no subscribers, persistence alone
// suffices"). The set of target connections is snapshotted right here,
// under r.mu, rather than later by the worker at delivery time: that keeps
// a Publish called while a caller holds qid's Lock (see handleSend) atomic
// with respect to a concurrent Subscribe also taken under that same Lock
// (see handleSubscribe), so a newly subscribing connection can never
// receive the same nonce both in its backlog and again live. It retries
// against a freshly spawned worker if the one it found was retired out
// from under it mid-send.
func (r *Registry) Publish(qid []byte, ev Event) {
	for {
		r.mu.Lock()
		w, ok := r.workers.Load(qidKey(qid))
		if !ok {
			if len(r.queueSubs[qidKey(qid)]) == 0 {
				r.mu.Unlock()
				return
			}
			w = r.getOrSpawnWorkerLocked(qid)
		}
		wk := w.(*worker)
		atomic.AddInt32(&wk.inflight, 1)

		queue := r.queueSubs[qidKey(qid)]
		targets := make([]Connection, 0, len(queue))
		for _, conn := range queue {
			targets = append(targets, conn)
		}
		r.mu.Unlock()

		sent := wk.publish(outboundEvent{ev: ev, targets: targets})
		atomic.AddInt32(&wk.inflight, -1)
		if sent {
			return
		}
		// wk was retired between lookup and send; loop to get/spawn a fresh one.
	}
}

// getOrSpawnWorkerLocked must be called with r.mu held.
func (r *Registry) getOrSpawnWorkerLocked(qid []byte) *worker {
	qk := qidKey(qid)
	if v, ok := r.workers.Load(qk); ok {
		return v.(*worker)
	}
	w := newWorker(qid, r.workerBufferSize, r, r.log)
	r.workers.Store(qk, w)
	return w
}

// tryRetire removes qid's worker if it is idle: empty mailbox, no
// subscribers, and no Publish currently mid-send. Called both by the
// worker itself after a drain and by Unsubscribe when a queue's last
// subscriber leaves, so termination happens promptly rather than only on
// the janitor's sweep.
func (r *Registry) tryRetire(qid []byte) {
	qk := qidKey(qid)

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.workers.Load(qk)
	if !ok {
		return
	}
	w := v.(*worker)
	if len(r.queueSubs[qk]) != 0 {
		return
	}
	if len(w.mailbox) != 0 {
		return
	}
	if atomic.LoadInt32(&w.inflight) != 0 {
		return
	}
	r.workers.Delete(qk)
	close(w.doneCh)
}

// runJanitor is a backstop sweep: in the steady path tryRetire already
// reclaims a worker the moment it goes idle, but a sweep catches any
// interleaving this implementation hasn't foreseen, the same belt-and-
// braces role the teacher's Hub.runEvictor plays for idle user cells.
func (r *Registry) runJanitor() {
	ticker := time.NewTicker(r.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	var qids [][]byte
	r.workers.Range(func(key, _ any) bool {
		qids = append(qids, []byte(key.(string)))
		return true
	})
	for _, qid := range qids {
		r.tryRetire(qid)
	}
}

// Shutdown stops the janitor and every live worker, and best-effort closes
// every attached connection.
func (r *Registry) Shutdown() {
	close(r.stopCh)

	r.mu.Lock()
	r.workers.Range(func(key, value any) bool {
		w := value.(*worker)
		select {
		case <-w.doneCh:
		default:
			close(w.doneCh)
		}
		r.workers.Delete(key)
		return true
	})
	r.mu.Unlock()

	r.mu.Lock()
	conns := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
