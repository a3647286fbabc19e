// Package syncutil provides the keyed locks potionwatch uses for
// single-flight work: one audit computation per day, one delivery per
// alert sink.
package syncutil

import "sync"

const shardCount = 256

// fnv32a hashes a key to its shard. Inlined so locking allocates nothing.
func fnv32a(key string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h
}

// ShardedMutex is a fixed pool of mutexes addressed by string key. Memory
// stays bounded no matter how many keys show up; the price is occasional
// false sharing when two keys land on the same shard. The zero value is
// ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	return &s.shards[fnv32a(key)%shardCount]
}
