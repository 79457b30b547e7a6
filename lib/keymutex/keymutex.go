package keymutex

import (
	"strconv"
	"sync"
)

// KeyMutex provides a fixed-size pool of mutexes keyed by user id, giving
// single-writer-per-user semantics for entitlement writes. Bounded memory
// regardless of how many users are seen, at the cost of occasional false
// sharing between ids that hash to the same shard.
//
// Holders must never keep a shard locked across a provider network call.
type KeyMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given user id and returns an unlock
// function.
func (k *KeyMutex) Lock(userId int64) func() {
	mu := &k.shards[shard(userId)]
	mu.Lock()
	return mu.Unlock
}

func shard(userId int64) uint32 {
	// FNV-1a over the decimal representation
	const offset, prime = 2166136261, 16777619
	h := uint32(offset)
	for _, b := range []byte(strconv.FormatInt(userId, 10)) {
		h ^= uint32(b)
		h *= prime
	}
	return h % 256
}
