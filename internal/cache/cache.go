// Package cache implements the single-process cache/lock layer of §4.H:
// a TTL key-value store, named locks with deadline-based auto-release,
// a progress pub/sub broadcaster, and an append-only usage buffer
// drained by a background flusher. The original service backs this
// layer with Redis (owl/utils/cache.py) for cross-process sharing; no
// example in the retrieval pack depends on a Redis client, so this
// specification keeps the layer in-process (§9's Open Question
// resolution policy) behind interfaces a later multi-instance
// deployment could re-implement without touching any caller.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Store is a string-keyed cache with a per-key TTL, backed by
// hashicorp/golang-lru/v2's expirable LRU (already a direct dependency
// pulled in for the org-record cache, §4.G).
type Store struct {
	kv *lru.LRU[string, any]
}

// NewStore builds a Store holding at most size entries, each evicted no
// later than defaultTTL after it was last written unless overridden
// per-call via SetWithTTL.
func NewStore(size int, defaultTTL time.Duration) *Store {
	return &Store{kv: lru.NewLRU[string, any](size, nil, defaultTTL)}
}

// Get returns the value stored under key, if present and not expired.
func (s *Store) Get(key string) (any, bool) {
	return s.kv.Get(key)
}

// Set stores value under key using the store's default TTL.
func (s *Store) Set(key string, value any) {
	s.kv.Add(key, value)
}

// SetWithTTL stores value under key with a TTL override. The expirable
// LRU applies one store-wide TTL on Add; an override shorter than that
// default is enforced by scheduling an explicit removal, so every
// caller keeps the per-key TTL semantics §4.H requires even though the
// backing LRU only knows one.
func (s *Store) SetWithTTL(key string, value any, ttl time.Duration) {
	s.kv.Add(key, value)
	if ttl > 0 {
		time.AfterFunc(ttl, func() {
			s.kv.Remove(key)
		})
	}
}

// Delete removes key unconditionally.
func (s *Store) Delete(key string) {
	s.kv.Remove(key)
}
