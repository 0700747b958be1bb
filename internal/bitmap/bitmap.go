// Package bitmap implements the single free-space bitmap allocator of
// spec.md §4.3: one bit per block (0 = free), read from bitmap_start
// when the filesystem is mounted (Load; the read is not deferred to
// first use), mutated in memory, and flushed as part of commit. The
// in-memory working copy is backed by github.com/boljen/go-bitmap,
// grounded on its use as the free-block map in dargueta-disko's unixv1
// driver (other_examples/..._unixv1__driver.go.go), which wraps the
// same library around a flat on-disk bitmap region.
package bitmap

import (
	"github.com/boljen/go-bitmap"
	"github.com/pkg/errors"

	"github.com/fxfs/fxfs/internal/proto"
)

// Device is the minimal block source/sink the bitmap reads from and
// flushes to.
type Device interface {
	ReadBlock(n uint64, dst []byte) error
	WriteBlock(n uint64, src []byte) error
}

// Cache is invalidated whenever a block is freed, so a stale cached
// copy of a freed block is never handed back to a later reader.
type Cache interface {
	Invalidate(n uint64)
}

var errFull = errors.New("bitmap: no free blocks")

// Allocator is the in-memory working copy of the on-disk bitmap.
type Allocator struct {
	dev         Device
	cache       Cache
	bitmapStart uint64
	dataStart   uint64
	totalBlocks uint64
	numBlocks   uint64 // blocks occupied by the bitmap region itself
	bits        bitmap.Bitmap
}

// blocksForBitmap returns how many proto.BlockSize blocks are needed
// to hold one bit per block for totalBlocks blocks, matching the
// superblock invariant data_start == bitmap_start +
// ceil(total_blocks/(4096*8)).
func blocksForBitmap(totalBlocks uint64) uint64 {
	bitsPerBlock := uint64(proto.BlockSize * 8)
	return (totalBlocks + bitsPerBlock - 1) / bitsPerBlock
}

// Load reads the bitmap region for a filesystem with the given
// geometry from dev.
func Load(dev Device, cache Cache, bitmapStart, dataStart, totalBlocks uint64) (*Allocator, error) {
	numBlocks := blocksForBitmap(totalBlocks)
	buf := make([]byte, numBlocks*proto.BlockSize)
	for i := uint64(0); i < numBlocks; i++ {
		if err := dev.ReadBlock(bitmapStart+i, buf[i*proto.BlockSize:(i+1)*proto.BlockSize]); err != nil {
			return nil, errors.Wrap(err, "bitmap: load")
		}
	}
	return &Allocator{
		dev:         dev,
		cache:       cache,
		bitmapStart: bitmapStart,
		dataStart:   dataStart,
		totalBlocks: totalBlocks,
		numBlocks:   numBlocks,
		bits:        bitmap.Bitmap(buf),
	}, nil
}

// New builds a fresh, all-free Allocator for a filesystem being
// formatted, without reading anything from dev.
func New(dev Device, cache Cache, bitmapStart, dataStart, totalBlocks uint64) *Allocator {
	numBlocks := blocksForBitmap(totalBlocks)
	return &Allocator{
		dev:         dev,
		cache:       cache,
		bitmapStart: bitmapStart,
		dataStart:   dataStart,
		totalBlocks: totalBlocks,
		numBlocks:   numBlocks,
		bits:        bitmap.New(int(totalBlocks)),
	}
}

// MarkUsed sets the bit for block n without touching free_blocks
// bookkeeping, for use while the formatter lays down fixed structures
// (superblocks, the bitmap region itself, the initial root leaf).
func (a *Allocator) MarkUsed(n uint64) {
	a.bits.Set(int(n), true)
}

// IsFree reports whether block n's bit is clear.
func (a *Allocator) IsFree(n uint64) bool {
	return !a.bits.Get(int(n))
}

// Alloc returns the smallest free block at or beyond dataStart, sets
// its bit, and reports it. It returns errFull if none remain.
func (a *Allocator) Alloc() (uint64, error) {
	for n := a.dataStart; n < a.totalBlocks; n++ {
		if !a.bits.Get(int(n)) {
			a.bits.Set(int(n), true)
			return n, nil
		}
	}
	return 0, errFull
}

// Free clears block n's bit and invalidates any cached copy of it, so
// a subsequent read of a reused block never returns stale contents.
func (a *Allocator) Free(n uint64) {
	a.bits.Set(int(n), false)
	if a.cache != nil {
		a.cache.Invalidate(n)
	}
}

// FreeBlocks returns the number of currently-clear bits.
func (a *Allocator) FreeBlocks() uint64 {
	free := uint64(0)
	for n := uint64(0); n < a.totalBlocks; n++ {
		if !a.bits.Get(int(n)) {
			free++
		}
	}
	return free
}

// Flush writes the in-memory bitmap back to its on-disk region. Commit
// calls this before writing the superblocks (spec.md §4.4 "Commit").
func (a *Allocator) Flush() error {
	raw := a.bits.Data(false)
	padded := make([]byte, a.numBlocks*proto.BlockSize)
	copy(padded, raw)
	for i := uint64(0); i < a.numBlocks; i++ {
		if err := a.dev.WriteBlock(a.bitmapStart+i, padded[i*proto.BlockSize:(i+1)*proto.BlockSize]); err != nil {
			return errors.Wrap(err, "bitmap: flush")
		}
	}
	return nil
}

// NumBlocks reports how many blocks the bitmap region itself occupies.
func (a *Allocator) NumBlocks() uint64 {
	return a.numBlocks
}
