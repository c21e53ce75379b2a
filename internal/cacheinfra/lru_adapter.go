package cacheinfra

import (
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
)

// LRUStore is an exact LRU keyed by string. The eviction callback only
// fires for capacity evictions, never for Remove or Purge.
type LRUStore[V any] struct {
	mu      sync.Mutex
	lru     *simplelru.LRU
	onEvict func(key string)

	// removing masks the simplelru callback during explicit removals.
	removing bool
}

// NewLRUStore validates cfg and builds a store with cfg.Capacity slots.
func NewLRUStore[V any](cfg Config, onEvict func(key string)) (*LRUStore[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &LRUStore[V]{onEvict: onEvict}
	lru, err := simplelru.NewLRU(cfg.Capacity, s.evicted)
	if err != nil {
		return nil, err
	}
	s.lru = lru
	return s, nil
}

func (s *LRUStore[V]) evicted(key, _ interface{}) {
	if s.removing || s.onEvict == nil {
		return
	}
	s.onEvict(key.(string))
}

// Get returns the value and marks it most recently used.
func (s *LRUStore[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return typed[V](s.lru.Get(key))
}

// Peek returns the value without updating recency.
func (s *LRUStore[V]) Peek(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return typed[V](s.lru.Peek(key))
}

// Add inserts or replaces key and reports whether an entry was evicted.
func (s *LRUStore[V]) Add(key string, value V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Add(key, value)
}

func (s *LRUStore[V]) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removing = true
	defer func() { s.removing = false }()
	return s.lru.Remove(key)
}

func (s *LRUStore[V]) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Contains(key)
}

func (s *LRUStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Keys lists keys from least to most recently used.
func (s *LRUStore[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := s.lru.Keys()
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = k.(string)
	}
	return keys
}

func (s *LRUStore[V]) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removing = true
	defer func() { s.removing = false }()
	s.lru.Purge()
}

func typed[V any](value interface{}, ok bool) (V, bool) {
	if !ok {
		var zero V
		return zero, false
	}
	v, ok := value.(V)
	return v, ok
}
