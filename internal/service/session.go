// Package service implements the Session Handler (C6): one instance per
// connection, dispatching parsed wire envelopes against the Registry and
// Store.
package service

import (
	"context"
	"log/slog"

	"github.com/relaywire/chatrelay/internal/codec"
	"github.com/relaywire/chatrelay/internal/registry"
	"github.com/relaywire/chatrelay/internal/store"
)

const historyBatchSize = 100

// Session is the per-connection state machine (OPEN -> CLOSED). It owns no
// goroutine of its own: the transport (internal/handler/ws) drives it by
// calling Handle once per inbound frame.
type Session struct {
	conn     registry.Connection
	registry registry.Registryer
	store    store.Store
	log      *slog.Logger
}

// NewSession builds a Session Handler bound to one already-attached
// connection.
func NewSession(conn registry.Connection, reg registry.Registryer, st store.Store, log *slog.Logger) *Session {
	return &Session{conn: conn, registry: reg, store: st, log: log}
}

// Handle parses and dispatches one inbound text frame. It returns true if
// the transport should close the connection (a DecodeError, a rejected
// send, or a storage failure); the caller is responsible for running
// Registry.Detach afterward either way.
func (s *Session) Handle(ctx context.Context, raw []byte) bool {
	in, err := codec.ParseInbound(raw)
	if err != nil {
		// ParseError: this implementation replies Status(false) and keeps
		// the connection open, giving the client a chance to resend a
		// correctly framed message (§7 allows either choice, applied
		// consistently).
		s.respond(ctx, false)
		return false
	}

	switch in.Type {
	case codec.TypePing:
		s.respond(ctx, true)
		return false
	case codec.TypeSend:
		return s.handleSend(ctx, in.Message)
	case codec.TypeSubscribe:
		return s.handleSubscribe(ctx, in.Message)
	case codec.TypeUnsubscribe:
		return s.handleUnsubscribe(ctx, in.Message)
	default:
		s.respond(ctx, false)
		return false
	}
}

// decodedMessage holds a Message's opaque fields after a successful base64
// decode.
type decodedMessage struct {
	qid, signature, content, contentIV []byte
	nonce                              uint64
}

// decode validates §4.6.1: qid/signature/content/contentIV must each decode
// as base64. nonce >= 1 is checked by callers that care (Send); Subscribe
// and Unsubscribe only need qid. m is guaranteed non-nil by ParseInbound.
func decode(m *codec.Message) (decodedMessage, error) {
	qid, err := codec.Decode(m.QueueID)
	if err != nil {
		return decodedMessage{}, err
	}
	sig, err := codec.Decode(m.Signature)
	if err != nil {
		return decodedMessage{}, err
	}
	content, err := codec.Decode(m.Content)
	if err != nil {
		return decodedMessage{}, err
	}
	iv, err := codec.Decode(m.ContentIV)
	if err != nil {
		return decodedMessage{}, err
	}
	return decodedMessage{qid: qid, signature: sig, content: content, contentIV: iv, nonce: m.Nonce}, nil
}

// handleSend makes the store commit and the registry fan-out a single
// critical section per qid (§4.5): holding the lock across both Append and
// Publish stops a second concurrent sender from committing and enqueuing
// nonce N+1 while this call is still between the two, which would let the
// worker fan N+1 out ahead of N.
func (s *Session) handleSend(ctx context.Context, m *codec.Message) bool {
	dm, err := decode(m)
	if err != nil || dm.nonce < 1 {
		s.respond(ctx, false)
		return true
	}

	unlock := s.registry.Lock(dm.qid)
	defer unlock()

	err = s.store.Append(ctx, store.StoredMessage{
		Nonce: dm.nonce, QID: dm.qid, Signature: dm.signature, Content: dm.content, ContentIV: dm.contentIV,
	})
	switch {
	case err == store.ErrNonceGap:
		s.respond(ctx, false)
		return true
	case err != nil:
		s.log.Error("store append failed", "qid", string(dm.qid), "nonce", dm.nonce, "err", err)
		s.respond(ctx, false)
		return true
	}

	s.registry.Publish(dm.qid, registry.Event{
		Nonce: dm.nonce, Signature: dm.signature, Content: dm.content, ContentIV: dm.contentIV,
	})
	s.respond(ctx, true)
	return false
}

// handleSubscribe registers conn as a live subscriber and reads the current
// high-water mark in the same critical section (§4.6: "atomically streams
// backlog then flips the connection to live"). Bounding the backlog read to
// that snapshot, taken while still holding qid's lock, is what stops a
// message from landing in both the backlog stream and a live fan-out: any
// send that commits after this point must wait for the same lock, by which
// time conn is already registered as a subscriber, so it is delivered live
// exactly once and never also replayed here.
func (s *Session) handleSubscribe(ctx context.Context, m *codec.Message) bool {
	dm, err := decode(m)
	if err != nil {
		s.respond(ctx, false)
		return true
	}

	unlock := s.registry.Lock(dm.qid)
	s.registry.Subscribe(s.conn, dm.qid)
	highWater, err := s.store.HighWater(ctx, dm.qid)
	unlock()
	if err != nil {
		s.log.Error("store high water failed", "qid", string(dm.qid), "err", err)
		s.respond(ctx, false)
		return true
	}

	from := dm.nonce
	for from <= highWater {
		batch, err := s.store.History(ctx, dm.qid, from, historyBatchSize)
		if err != nil {
			s.log.Error("store history failed", "qid", string(dm.qid), "err", err)
			s.respond(ctx, false)
			return true
		}
		if len(batch) == 0 {
			break
		}
		for _, stored := range batch {
			_ = s.conn.SendText(ctx, codec.MarshalEventNew(codec.Message{
				Nonce:     stored.Nonce,
				QueueID:   codec.Encode(stored.QID),
				Signature: codec.Encode(stored.Signature),
				Content:   codec.Encode(stored.Content),
				ContentIV: codec.Encode(stored.ContentIV),
			}))
		}
		from = batch[len(batch)-1].Nonce + 1
	}

	_ = s.conn.SendText(ctx, codec.MarshalEventWait(codec.Encode(dm.qid)))
	s.respond(ctx, true)
	return false
}

func (s *Session) handleUnsubscribe(ctx context.Context, m *codec.Message) bool {
	dm, err := decode(m)
	if err != nil {
		s.respond(ctx, false)
		return true
	}
	s.registry.Unsubscribe(s.conn, dm.qid)
	s.respond(ctx, true)
	return false
}

func (s *Session) respond(ctx context.Context, ok bool) {
	if err := s.conn.SendText(ctx, codec.MarshalResponse(ok)); err != nil {
		s.log.Debug("response send failed, connection likely already gone", "conn", s.conn.ID(), "err", err)
	}
}
