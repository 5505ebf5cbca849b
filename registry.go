package apm

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// trackerShard is one lock-striped slice of the tracked-server map.
type trackerShard struct {
	sync.RWMutex

	items map[string]*Tracker
}

// trackerMap is a sharded map from server name to tracker. Shards keep the
// lock contention of Track/Record/Stats lookups away from each other; the
// shard is picked by hashing the server name.
type trackerMap struct {
	shards [shardCount]*trackerShard
}

func newTrackerMap() *trackerMap {
	m := &trackerMap{}
	for i := range m.shards {
		m.shards[i] = &trackerShard{items: make(map[string]*Tracker)}
	}

	return m
}

func (m *trackerMap) shard(name string) *trackerShard {
	return m.shards[xxhash.Sum64String(name)&(shardCount-1)]
}

// get retrieves the tracker registered under name.
func (m *trackerMap) get(name string) (*Tracker, bool) {
	shard := m.shard(name)

	shard.RLock()
	t, ok := shard.items[name]
	shard.RUnlock()

	return t, ok
}

// setIfAbsent registers t under name unless the name is already taken.
func (m *trackerMap) setIfAbsent(name string, t *Tracker) bool {
	shard := m.shard(name)

	shard.Lock()
	defer shard.Unlock()

	if _, ok := shard.items[name]; ok {
		return false
	}

	shard.items[name] = t

	return true
}

// remove unregisters and returns the tracker stored under name.
func (m *trackerMap) remove(name string) (*Tracker, bool) {
	shard := m.shard(name)

	shard.Lock()
	defer shard.Unlock()

	t, ok := shard.items[name]
	if ok {
		delete(shard.items, name)
	}

	return t, ok
}

// names returns the registered server names.
func (m *trackerMap) names() []string {
	out := make([]string, 0)

	for _, shard := range m.shards {
		shard.RLock()

		for name := range shard.items {
			out = append(out, name)
		}

		shard.RUnlock()
	}

	return out
}
