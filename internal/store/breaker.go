package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// breakerStore wraps Append/History in a circuit breaker so a degraded
// database trips fast instead of piling up blocked Session Handler
// goroutines behind it. The teacher declares sony/gobreaker for its
// resilient service clients but the retrieved slice never shows a call
// site; this gives the dependency a concrete home around the one component
// in this repo that talks to an external resource worth protecting.
type breakerStore struct {
	Store
	cb *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps underlying with a breaker named for logging/metrics
// purposes; it opens after 5 consecutive failures and half-opens after 10s.
func NewBreakerStore(underlying Store) Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "message-store",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A NonceGap is a client error, not a sign the store is
			// unhealthy; don't let misbehaving clients trip the breaker.
			return err == nil || err == ErrNonceGap
		},
	})
	return &breakerStore{Store: underlying, cb: cb}
}

func (s *breakerStore) Append(ctx context.Context, msg StoredMessage) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.Store.Append(ctx, msg)
	})
	return unwrapBreaker(err)
}

func (s *breakerStore) History(ctx context.Context, qid []byte, fromNonce uint64, limit int) ([]StoredMessage, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.Store.History(ctx, qid, fromNonce, limit)
	})
	if err != nil {
		return nil, unwrapBreaker(err)
	}
	return v.([]StoredMessage), nil
}

// unwrapBreaker returns err unchanged: Execute already hands back the
// wrapped call's own error, so ErrNonceGap reaches the caller as is. It is
// IsSuccessful in NewBreakerStore, not this function, that keeps a NonceGap
// from counting toward tripping the breaker.
func unwrapBreaker(err error) error {
	if err == ErrNonceGap {
		return ErrNonceGap
	}
	return err
}
