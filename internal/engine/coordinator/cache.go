package coordinator

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	shardCount = 16
	shardMask  = shardCount - 1
)

// Masks is the last answer for one entity. Requested holds the bones that
// were asked for; bits outside it carry no information.
type Masks struct {
	Requested uint32
	Visible   uint32
	Hitscan   uint32
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[uint64]Masks
}

// visCache maps entity ids to masks, sharded to keep query threads off the
// worker's locks.
type visCache struct {
	shards [shardCount]cacheShard
}

func newVisCache() *visCache {
	c := &visCache{}
	for i := range c.shards {
		c.shards[i].entries = make(map[uint64]Masks)
	}
	return c
}

func (c *visCache) shard(id uint64) *cacheShard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	return &c.shards[xxhash.Sum64(b[:])&shardMask]
}

func (c *visCache) Get(id uint64) (Masks, bool) {
	s := c.shard(id)
	s.mu.RLock()
	m, ok := s.entries[id]
	s.mu.RUnlock()
	return m, ok
}

func (c *visCache) Set(id uint64, m Masks) {
	s := c.shard(id)
	s.mu.Lock()
	s.entries[id] = m
	s.mu.Unlock()
}

// Prune drops every entry whose id is not in keep and returns how many
// were removed.
func (c *visCache) Prune(keep map[uint64]struct{}) int {
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for id := range s.entries {
			if _, ok := keep[id]; !ok {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (c *visCache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

func (c *visCache) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		clear(s.entries)
		s.mu.Unlock()
	}
}
