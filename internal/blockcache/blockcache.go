// Package blockcache implements the fixed 16-slot, approximate-LRU
// block cache of spec.md §4.2.
//
// The eviction policy must be exactly "an invalid slot first, else the
// lowest use counter" so that the testable properties in
// spec.md §8 (bitmap agreement, superblock durability) can assert on
// which blocks are resident after a known access sequence. A generic
// LRU implementation such as hashicorp/golang-lru hides that ordering
// behind its own internal list, so this package is hand-rolled in the
// spirit of the teacher's own hand-rolled slot tables
// (fuse/bufferpool.go, fuse/handle.go) rather than wrapping a
// general-purpose cache.
package blockcache

import (
	"github.com/fxfs/fxfs/internal/proto"
)

type slot struct {
	block uint64
	valid bool
	used  uint64
	data  [proto.BlockSize]byte
}

// Device is the minimal block source the cache reads through on a
// miss.
type Device interface {
	ReadBlock(n uint64, dst []byte) error
}

// Cache is a fixed-size, write-through block cache. It is not safe for
// concurrent use; the handle server serializes all access (spec.md
// §4.2 "Concurrency").
type Cache struct {
	dev   Device
	slots [proto.CacheSlots]slot
	clock uint64
}

// New constructs a Cache reading misses from dev.
func New(dev Device) *Cache {
	return &Cache{dev: dev}
}

// Get returns the cached contents of block n, reading through dev on
// a miss and evicting the slot with the lowest use counter (an
// invalid slot always loses first). The returned slice aliases the
// cache's internal storage: it is invalidated by any later Insert,
// Invalidate, or Get that reuses the same slot (spec.md §4.4 "Lifetime
// rule").
func (c *Cache) Get(n uint64) ([]byte, error) {
	if i, ok := c.find(n); ok {
		c.clock++
		c.slots[i].used = c.clock
		return c.slots[i].data[:], nil
	}

	i := c.victim()
	if err := c.dev.ReadBlock(n, c.slots[i].data[:]); err != nil {
		return nil, err
	}
	c.clock++
	c.slots[i] = slot{block: n, valid: true, used: c.clock, data: c.slots[i].data}
	return c.slots[i].data[:], nil
}

// Insert writes through: it stores src in the cache for block n
// (replacing any existing entry for n) without touching the device.
// Callers that have just written a freshly allocated node or
// superblock use this to keep the cache warm with what they know is
// now on disk.
func (c *Cache) Insert(n uint64, src []byte) {
	if i, ok := c.find(n); ok {
		c.clock++
		c.slots[i].used = c.clock
		copy(c.slots[i].data[:], src)
		return
	}
	i := c.victim()
	c.clock++
	c.slots[i] = slot{block: n, valid: true, used: c.clock}
	copy(c.slots[i].data[:], src)
}

// Invalidate clears any slot holding block n, so a later Get is forced
// to re-read the device. Called whenever the bitmap allocator frees n.
func (c *Cache) Invalidate(n uint64) {
	if i, ok := c.find(n); ok {
		c.slots[i] = slot{}
	}
}

func (c *Cache) find(n uint64) (int, bool) {
	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].block == n {
			return i, true
		}
	}
	return 0, false
}

// victim picks the slot to reuse: an invalid slot always wins; among
// valid slots, the one with the lowest use counter loses. Counter
// wraparound is tolerated — it only ever widens the gap between
// genuinely-recent and genuinely-stale slots, it never inverts it
// within one wrap cycle.
func (c *Cache) victim() int {
	best := 0
	bestValid := c.slots[0].valid
	bestUsed := c.slots[0].used
	for i := 1; i < len(c.slots); i++ {
		s := c.slots[i]
		switch {
		case bestValid && !s.valid:
			best, bestValid, bestUsed = i, s.valid, s.used
		case bestValid == s.valid && s.used < bestUsed:
			best, bestValid, bestUsed = i, s.valid, s.used
		}
	}
	return best
}
