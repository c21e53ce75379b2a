package cache

// KeySerializer builds a cache key from a prefix and arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(prefix string, args ...any) string
}

// Store is a bounded map from canonical keys to values. Implementations
// are safe for concurrent use; callers needing multi-step atomicity hold
// their own lock around a sequence of calls.
type Store[V any] interface {
	// Get returns the value and marks it as recently used.
	Get(key string) (V, bool)
	// Peek returns the value without touching recency.
	Peek(key string) (V, bool)
	// Add inserts or replaces a value and reports whether an entry was
	// evicted to make room.
	Add(key string, value V) bool
	Remove(key string) bool
	Contains(key string) bool
	Len() int
	Keys() []string
	Purge()
}
