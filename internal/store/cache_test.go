package store

import (
	"context"
	"testing"
)

type countingStore struct {
	highWaterCalls int
	rows           map[string]uint64
}

func newCountingStore() *countingStore { return &countingStore{rows: make(map[string]uint64)} }

func (s *countingStore) HighWater(ctx context.Context, qid []byte) (uint64, error) {
	s.highWaterCalls++
	return s.rows[string(qid)], nil
}

func (s *countingStore) Append(ctx context.Context, msg StoredMessage) error {
	if msg.Nonce != s.rows[string(msg.QID)]+1 {
		return ErrNonceGap
	}
	s.rows[string(msg.QID)] = msg.Nonce
	return nil
}

func (s *countingStore) History(ctx context.Context, qid []byte, fromNonce uint64, limit int) ([]StoredMessage, error) {
	return nil, nil
}

func TestCachedStore_HighWaterHitsCacheAfterAppend(t *testing.T) {
	underlying := newCountingStore()
	cached := NewCachedStore(underlying, 16)
	ctx := context.Background()
	qid := []byte("foo")

	if err := cached.Append(ctx, StoredMessage{Nonce: 1, QID: qid}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	hw, err := cached.HighWater(ctx, qid)
	if err != nil {
		t.Fatalf("high water failed: %v", err)
	}
	if hw != 1 {
		t.Fatalf("expected high water 1, got %d", hw)
	}
	if underlying.highWaterCalls != 0 {
		t.Fatalf("expected HighWater to be served from cache after an append, underlying called %d times", underlying.highWaterCalls)
	}
}

func TestCachedStore_HighWaterMissFillsCache(t *testing.T) {
	underlying := newCountingStore()
	underlying.rows["bar"] = 5
	cached := NewCachedStore(underlying, 16)
	ctx := context.Background()
	qid := []byte("bar")

	hw, err := cached.HighWater(ctx, qid)
	if err != nil || hw != 5 {
		t.Fatalf("expected high water 5, got %d err=%v", hw, err)
	}
	if underlying.highWaterCalls != 1 {
		t.Fatalf("expected exactly one underlying call on cache miss, got %d", underlying.highWaterCalls)
	}

	if _, err := cached.HighWater(ctx, qid); err != nil {
		t.Fatalf("second high water failed: %v", err)
	}
	if underlying.highWaterCalls != 1 {
		t.Fatalf("expected the second call to be served from cache, underlying called %d times", underlying.highWaterCalls)
	}
}

func TestCachedStore_NonceGapDoesNotPoisonCache(t *testing.T) {
	underlying := newCountingStore()
	cached := NewCachedStore(underlying, 16)
	ctx := context.Background()
	qid := []byte("baz")

	if err := cached.Append(ctx, StoredMessage{Nonce: 3, QID: qid}); err != ErrNonceGap {
		t.Fatalf("expected ErrNonceGap, got %v", err)
	}

	hw, err := cached.HighWater(ctx, qid)
	if err != nil {
		t.Fatalf("high water failed: %v", err)
	}
	if hw != 0 {
		t.Fatalf("expected high water 0 after a rejected append, got %d", hw)
	}
}
