// Package cache provides the bounded stores and key serialization used by
// the persistence layer to keep objects in memory.
//
// # Overview
//
// This package exports two interfaces and their default implementations:
//
//   - Store: a bounded map from canonical string keys to values
//   - KeySerializer: builds stable keys from a prefix and arbitrary values
//
// # Stores
//
// New selects an implementation from Config.Policy:
//
//	store, err := cache.New[*Entry](cache.Config{Capacity: 128, Policy: cache.PolicyLRU}, func(key string) {
//		log.Debug("evicted", "key", key)
//	})
//
// PolicyLRU is an exact least-recently-used store backed by
// hashicorp/golang-lru. Capacity is a hard bound and Get refreshes recency
// while Peek does not.
//
// PolicySharded is backed by sturdyc. Entries spread over NumShards shards,
// a full shard drops EvictionPercentage of its entries at once and entries
// expire after TTL. It is neither LRU nor one-at-a-time: a single insert
// can drop several entries, chosen without regard to use. Use it for large
// caches where exact recency does not matter.
//
// The eviction callback only reports entries dropped to make room. TTL
// expiry, Remove and Purge never call it.
//
// # Key Serialization
//
// The default key serializer covers the scalar values a primary key holds:
//
//   - nil: "nil"
//   - Strings and named string types: quoted, so "nil" and "" never collide
//     with a null
//   - Byte slices: hex encoded with a "bytes:" prefix
//   - time.Time: UTC RFC 3339 with a "time:" prefix
//   - Booleans, integers and floats: their shortest decimal form
//
// Anything else falls back to its type and %v.
//
// A primary key serializes as its class, then its field names, types and
// values:
//
//	serializer := cache.NewDefaultKeySerializer()
//	key := serializer.SerializeKey("customer", "id:integer", int64(6))
//
// # Custom Key Serializers
//
// Implement KeySerializer when keys must follow an application format, for
// example when sharing a namespace with another cache.
package cache
