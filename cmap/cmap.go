// Package cmap provides a sharded map keyed by document name. Lookups for
// names that hash to different shards never contend on the same lock.
package cmap

import (
	"hash/maphash"
	"sync"
)

const DefaultShardCount = 16

type Map[V any] struct {
	shards    []*shard[V]
	shardMask uint64
	seed      maphash.Seed
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func New[V any]() *Map[V] {
	return NewWithShards[V](DefaultShardCount)
}

// NewWithShards creates a map with shardCount shards. shardCount must be a
// power of 2; anything else falls back to DefaultShardCount.
func NewWithShards[V any](shardCount int) *Map[V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}
	m := &Map[V]{
		shards:    make([]*shard[V], shardCount),
		shardMask: uint64(shardCount - 1),
		seed:      maphash.MakeSeed(),
	}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) getShard(key string) *shard[V] {
	return m.shards[maphash.String(m.seed, key)&m.shardMask]
}

func (m *Map[V]) Get(key string) (V, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// GetOrCreate returns the value stored under key, calling create and storing
// its result if there is none. create runs at most once per key and while the
// shard lock is held, so it must not touch the map.
func (m *Map[V]) GetOrCreate(key string, create func() V) (V, bool) {
	s := m.getShard(key)

	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return v, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v, false
	}
	v = create()
	s.items[key] = v
	return v, true
}

func (m *Map[V]) Count() int {
	count := 0
	for _, s := range m.shards {
		s.mu.RLock()
		count += len(s.items)
		s.mu.RUnlock()
	}
	return count
}

// Range calls fn for every entry until fn returns false. Entries added while
// Range runs may or may not be visited.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		items := make(map[string]V, len(s.items))
		for k, v := range s.items {
			items[k] = v
		}
		s.mu.RUnlock()

		for k, v := range items {
			if !fn(k, v) {
				return
			}
		}
	}
}
