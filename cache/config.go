package cache

import (
	"time"

	"github.com/goliatone/go-persistence/internal/cacheinfra"
)

// Policy selects the store that backs a cache.
type Policy string

const (
	// PolicyLRU evicts the least recently used entry, one at a time, when
	// an insert exceeds Capacity.
	PolicyLRU Policy = Policy(cacheinfra.PolicyLRU)

	// PolicySharded trades exact recency for throughput. It is not LRU: a
	// full shard drops EvictionPercentage of its entries in one insert,
	// whichever they are, and Get does not refresh recency. Entries older
	// than TTL vanish without reaching the eviction callback, so eviction
	// counts under this policy only cover drops made to free room.
	PolicySharded Policy = Policy(cacheinfra.PolicySharded)
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int
	Policy             Policy
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// New builds the store selected by cfg.Policy. onEvict, when set, is called
// with the key of every entry dropped to make room.
func New[V any](cfg Config, onEvict func(key string)) (Store[V], error) {
	internal := cfg.toInternal()
	if cfg.Policy == PolicySharded {
		store, err := cacheinfra.NewShardedStore[V](internal, onEvict)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := cacheinfra.NewLRUStore[V](internal, onEvict)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		Policy:             cacheinfra.Policy(c.Policy),
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		Policy:             Policy(cfg.Policy),
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
