package cacheinfra

import (
	"sync"

	"github.com/viccon/sturdyc"
)

// ShardedStore wraps a sturdyc client. sturdyc has no recency tracking, so
// Get and Peek behave the same and eviction drops a percentage of a full
// shard at once. Entries also expire after the configured TTL.
type ShardedStore[V any] struct {
	mu      sync.Mutex
	client  *sturdyc.Client[V]
	onEvict func(key string)
}

// NewShardedStore creates a sturdyc backed store.
//
// Capacity, NumShards, TTL and EvictionPercentage go to sturdyc.New, the
// eviction interval is applied as an option.
func NewShardedStore[V any](cfg Config, onEvict func(key string)) (*ShardedStore[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[V](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.sturdycOptions()...,
	)
	return &ShardedStore[V]{client: client, onEvict: onEvict}, nil
}

func (c Config) sturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

func (s *ShardedStore[V]) Get(key string) (V, bool) {
	return s.client.Get(key)
}

func (s *ShardedStore[V]) Peek(key string) (V, bool) {
	return s.client.Get(key)
}

// Add stores value. When sturdyc reports an eviction the dropped keys are
// found by diffing the key set, which only happens on a full shard.
func (s *ShardedStore[V]) Add(key string, value V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var before []string
	if s.onEvict != nil {
		before = s.client.ScanKeys()
	}

	if !s.client.Set(key, value) {
		return false
	}

	if s.onEvict != nil {
		after := make(map[string]struct{}, s.client.Size())
		for _, k := range s.client.ScanKeys() {
			after[k] = struct{}{}
		}
		for _, k := range before {
			if _, ok := after[k]; !ok {
				s.onEvict(k)
			}
		}
	}
	return true
}

func (s *ShardedStore[V]) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.client.Get(key); !ok {
		return false
	}
	s.client.Delete(key)
	return true
}

func (s *ShardedStore[V]) Contains(key string) bool {
	_, ok := s.client.Get(key)
	return ok
}

func (s *ShardedStore[V]) Len() int {
	return s.client.Size()
}

func (s *ShardedStore[V]) Keys() []string {
	return s.client.ScanKeys()
}

func (s *ShardedStore[V]) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.client.ScanKeys() {
		s.client.Delete(k)
	}
}
