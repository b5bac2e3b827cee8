package propagation

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 32

// keyedMutex hands out one mutex per key. Entries are reference counted and
// dropped when the last holder unlocks, so idle players cost nothing.
type keyedMutex struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	k := &keyedMutex{}
	for i := range k.shards {
		k.shards[i].locks = make(map[string]*refLock)
	}
	return k
}

func (k *keyedMutex) shard(key string) *lockShard {
	return &k.shards[xxhash.Sum64String(key)%lockShards]
}

// Lock blocks until key is held and returns its release func.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	sh := k.shard(key)
	sh.mu.Lock()
	l, ok := sh.locks[key]
	if !ok {
		l = &refLock{}
		sh.locks[key] = l
	}
	l.refs++
	sh.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		sh.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(sh.locks, key)
		}
		sh.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (k *keyedMutex) Len() int {
	n := 0
	for i := range k.shards {
		sh := &k.shards[i]
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}
