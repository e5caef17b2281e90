package jt

import (
	"hash/fnv"
	"sync"
)

const lockShards = 256

// KeyedMutex serializes work per string key using a fixed set of shards.
// Two keys may share a shard; a given key always maps to the same one.
// The zero value is ready to use.
type KeyedMutex struct {
	shards [lockShards]sync.Mutex
}

// Lock locks key's shard and returns the matching unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &m.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu.Unlock
}
