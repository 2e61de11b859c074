// Package store defines the Message Store contract (the spec's C2) and a
// resilient, cached decorator around a concrete engine. The concrete engine
// lives in store/duckdb; callers depend only on the Store interface here.
package store

import (
	"context"
	"errors"
)

// StoredMessage is one durable row: (qid, nonce, signature, content, content_iv).
type StoredMessage struct {
	Nonce     uint64
	QID       []byte
	Signature []byte
	Content   []byte
	ContentIV []byte
}

// ErrNonceGap is returned by Append when msg.Nonce != HighWater(qid)+1. It is
// a definitive client error: the caller surfaces Status(false) and closes
// the connection without retrying.
var ErrNonceGap = errors.New("store: nonce gap")

// Store is the Message Store contract. Implementations must serialize
// Append with respect to concurrent Appends for the same qid; Appends for
// different qids must not block each other beyond the underlying engine's
// own limits.
type Store interface {
	// HighWater returns the largest nonce stored for qid, or 0 if none.
	HighWater(ctx context.Context, qid []byte) (uint64, error)
	// Append atomically verifies msg.Nonce == HighWater(qid)+1 and inserts.
	// Returns ErrNonceGap on a failed monotone check, a plain error for any
	// other storage failure, or nil on success.
	Append(ctx context.Context, msg StoredMessage) error
	// History returns messages with Nonce >= fromNonce for qid, ascending by
	// nonce, at most limit rows.
	History(ctx context.Context, qid []byte, fromNonce uint64, limit int) ([]StoredMessage, error)
}
