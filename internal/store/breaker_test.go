package store

import (
	"context"
	"errors"
	"testing"
)

type failingStore struct{ err error }

func (s *failingStore) HighWater(ctx context.Context, qid []byte) (uint64, error) { return 0, nil }
func (s *failingStore) Append(ctx context.Context, msg StoredMessage) error       { return s.err }
func (s *failingStore) History(ctx context.Context, qid []byte, fromNonce uint64, limit int) ([]StoredMessage, error) {
	return nil, s.err
}

func TestBreakerStore_NonceGapPassesThrough(t *testing.T) {
	bs := NewBreakerStore(&failingStore{err: ErrNonceGap})
	err := bs.Append(context.Background(), StoredMessage{Nonce: 1, QID: []byte("foo")})
	if err != ErrNonceGap {
		t.Fatalf("expected ErrNonceGap to pass through the breaker untouched, got %v", err)
	}
}

func TestBreakerStore_GenericFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	bs := NewBreakerStore(&failingStore{err: boom})
	err := bs.Append(context.Background(), StoredMessage{Nonce: 1, QID: []byte("foo")})
	if err == nil {
		t.Fatalf("expected the underlying storage error to propagate")
	}
}
