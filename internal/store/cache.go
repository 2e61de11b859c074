package store

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedStore decorates a Store with an in-memory high-water-mark cache so
// repeated HighWater reads for a busy queue are served from memory instead
// of a MAX(nonce) round trip. Append does not consult the cache: it always
// delegates to the underlying engine, which runs its own check. Grounded
// on the teacher's peer-resolution cache-aside pattern (lru.Cache + fill on
// miss, advance on write), repurposed here for nonce bookkeeping instead of
// peer lookups.
type cachedStore struct {
	Store
	highWater *lru.Cache[string, uint64]
}

// NewCachedStore wraps store with an LRU of the given size, one entry per
// distinct qid seen recently.
func NewCachedStore(underlying Store, size int) Store {
	c, err := lru.New[string, uint64](size)
	if err != nil {
		// Only returned for size <= 0; callers pass a fixed positive constant.
		panic(err)
	}
	return &cachedStore{Store: underlying, highWater: c}
}

func (s *cachedStore) HighWater(ctx context.Context, qid []byte) (uint64, error) {
	key := string(qid)
	if hw, ok := s.highWater.Get(key); ok {
		return hw, nil
	}
	hw, err := s.Store.HighWater(ctx, qid)
	if err != nil {
		return 0, err
	}
	s.highWater.Add(key, hw)
	return hw, nil
}

func (s *cachedStore) Append(ctx context.Context, msg StoredMessage) error {
	if err := s.Store.Append(ctx, msg); err != nil {
		if errNonceGapStale(err) {
			// Drop the cached value for this qid so the next HighWater
			// call re-reads the engine.
			s.highWater.Remove(string(msg.QID))
		}
		return err
	}
	s.highWater.Add(string(msg.QID), msg.Nonce)
	return nil
}

func errNonceGapStale(err error) bool {
	return err == ErrNonceGap
}
