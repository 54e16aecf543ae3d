package memory

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const numShards = 256

// lockTable выдает мьютекс на каждую строку (кошелек или транзакцию).
// Мьютексы живут в шардах, чтобы не держать одну глобальную блокировку на всю карту.
type lockTable struct {
	shards [numShards]*lockShard
}

type lockShard struct {
	mu    sync.RWMutex
	locks map[uuid.UUID]*sync.Mutex
}

func newLockTable() *lockTable {
	lt := &lockTable{}
	for i := 0; i < numShards; i++ {
		lt.shards[i] = &lockShard{locks: make(map[uuid.UUID]*sync.Mutex)}
	}
	return lt
}

func (lt *lockTable) getShard(id uuid.UUID) *lockShard {
	hasher := fnv.New64a()
	hasher.Write(id[:])
	return lt.shards[hasher.Sum64()&(numShards-1)]
}

func (lt *lockTable) get(id uuid.UUID) *sync.Mutex {
	shard := lt.getShard(id)

	shard.mu.RLock()
	m, ok := shard.locks[id]
	shard.mu.RUnlock()
	if ok {
		return m
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if existing, exists := shard.locks[id]; exists {
		return existing
	}
	m = &sync.Mutex{}
	shard.locks[id] = m
	return m
}
