// Package syncutil holds the per-key lock used to serialize ledger
// operations on one wallet address.
package syncutil

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used by NewKeyedMutex(0).
const DefaultShards = 256

// KeyedMutex is a fixed pool of channel-based mutexes addressed by key hash.
// Memory stays bounded however many keys are seen; unrelated keys that land
// on the same shard briefly serialize. Waiting honours context cancellation.
type KeyedMutex struct {
	shards []chan struct{}
}

// NewKeyedMutex creates a mutex pool with n shards (DefaultShards if n <= 0).
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = DefaultShards
	}
	m := &KeyedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{} // unlocked
	}
	return m
}

// LockContext acquires the shard for key. On success the returned function
// releases it and must be called exactly once. If ctx ends first, the lock is
// not held and ctx.Err() is returned.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shards[m.shardIdx(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shardIdx(key string) uint64 {
	return xxhash.Sum64String(key) % uint64(len(m.shards))
}
