package cacheinfra

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Policy selects the store backing a cache.
type Policy string

const (
	// PolicyLRU is an exact least-recently-used store with a hard capacity.
	PolicyLRU Policy = "lru"
	// PolicySharded spreads entries over sturdyc shards. Eviction is
	// approximate and entries expire after TTL.
	PolicySharded Policy = "sharded"
)

// Config holds the configuration shared by the store adapters.
type Config struct {
	// Capacity is the maximum number of entries. Must be greater than 0.
	Capacity int

	// Policy defaults to PolicyLRU when empty.
	Policy Policy

	// NumShards is only used by PolicySharded. It can not exceed Capacity,
	// otherwise shards would have no room.
	NumShards int

	// TTL is only used by PolicySharded.
	TTL time.Duration

	// EvictionPercentage is how much of a full shard sturdyc drops at once.
	EvictionPercentage int

	// EvictionInterval sets how often sturdyc scans for expired entries.
	// Zero uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with defaults for an object cache.
func DefaultConfig() Config {
	return Config{
		Capacity:           128,
		Policy:             PolicyLRU,
		NumShards:          8,
		TTL:                24 * time.Hour,
		EvictionPercentage: 10,
	}
}

func (c Config) normalized() Config {
	if c.Policy == "" {
		c.Policy = PolicyLRU
	}
	return c
}

// Validate checks the configuration values for the selected policy.
func (c Config) Validate() error {
	c = c.normalized()

	err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.Policy, validation.In(PolicyLRU, PolicySharded)),
	)
	if err != nil {
		return err
	}

	if c.Policy != PolicySharded {
		return nil
	}

	err = validation.ValidateStruct(&c,
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return err
	}

	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}
	return nil
}

// ConfigError represents a configuration validation error that spans more
// than one field.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
