package store

// highWaterCacheSize bounds the number of distinct qids the cache decorator
// tracks at once; a queue not touched recently simply falls back to a real
// HighWater read.
const highWaterCacheSize = 10000

// DecorateWithResilience wraps whatever concrete engine a lower module
// provided (duckdb.Module, in this repo) with the breaker and cache
// decorators, the same way the teacher's service/module.go layers its
// Enricher middleware around the base implementation.
//
// This is applied as an fx.Decorate at the root fx.New call (cmd.NewApp)
// rather than inside a layer's fx.Module: fx decorations are scoped to the
// declaring module and its descendants, and the only consumer of Store is
// ws.Module (via Acceptor), a sibling of duckdb.Module, not a descendant.
// Declaring it inside duckdb.Module would decorate nothing real, and the
// acceptor would silently end up wired to the bare duckdb engine.
func DecorateWithResilience(s Store) Store {
	return NewCachedStore(NewBreakerStore(s), highWaterCacheSize)
}
