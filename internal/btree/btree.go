// Package btree implements the copy-on-write B-tree engine of
// spec.md §3.3, §3.4 and §4.4: search, range scan, and CoW
// insert/delete/update over the packed node layout in
// internal/proto. Every mutation allocates a fresh block for each
// node it touches, rewrites ancestors up to the root, and frees the
// superseded blocks only once the whole rewrite has succeeded — so a
// failure partway through a CoW mutation never leaves the live tree
// pointing at a freed block (spec.md §4.4 "Failure semantics").
//
// Node splits are out of scope for v1 (spec.md §9): Insert returns
// ErrWouldSplit rather than growing a leaf past one block. The
// recursive ancestor-rewrite machinery below nonetheless walks
// arbitrary-depth trees, since the on-disk format already supports
// internal nodes and a future split implementation only needs to
// start producing them.
package btree

import (
	"github.com/pkg/errors"

	"github.com/fxfs/fxfs/internal/proto"
)

// ErrWouldSplit is returned when an insert would make a leaf exceed
// one block; splitting is a planned extension, not implemented here.
var ErrWouldSplit = errors.New("btree: leaf is full, split not supported")

// ErrTooDeep guards the descent bound of spec.md §4.4.
var ErrTooDeep = errors.New("btree: tree exceeds maximum descent depth")

// ErrKeyExists is returned by Insert when the key is already present;
// callers that want to overwrite an existing item must use Update.
var ErrKeyExists = errors.New("btree: key already present, use Update")

// Cache is the subset of blockcache.Cache the tree needs to read
// nodes, including ones it has just written.
type Cache interface {
	Get(n uint64) ([]byte, error)
	Insert(n uint64, src []byte)
}

// Device is the subset of blockdev.Device needed to durably write a
// freshly allocated node.
type Device interface {
	WriteBlock(n uint64, src []byte) error
}

// Allocator is the subset of bitmap.Allocator the tree needs to hand
// out and reclaim node blocks.
type Allocator interface {
	Alloc() (uint64, error)
	Free(n uint64)
}

// Tree is a CoW B-tree rooted at a single block number. Generation
// stamping of rewritten nodes is driven by the caller (the fsys layer
// owns the filesystem's generation counter); Tree itself only shapes
// and relocates nodes.
type Tree struct {
	dev   Device
	cache Cache
	alloc Allocator
	root  uint64
}

// New wraps an existing on-disk tree rooted at root.
func New(dev Device, cache Cache, alloc Allocator, root uint64) *Tree {
	return &Tree{dev: dev, cache: cache, alloc: alloc, root: root}
}

// Root returns the current root block number.
func (t *Tree) Root() uint64 { return t.root }

// transaction tracks blocks allocated and freed during one CoW
// mutation so a mid-flight failure can roll back cleanly.
type transaction struct {
	alloc     Allocator
	allocated []uint64
	freed     []uint64
}

func (tx *transaction) allocBlock() (uint64, error) {
	n, err := tx.alloc.Alloc()
	if err != nil {
		return 0, err
	}
	tx.allocated = append(tx.allocated, n)
	return n, nil
}

func (tx *transaction) markFreed(n uint64) {
	tx.freed = append(tx.freed, n)
}

func (tx *transaction) rollback() {
	for _, n := range tx.allocated {
		tx.alloc.Free(n)
	}
}

func (tx *transaction) commitFrees() {
	for _, n := range tx.freed {
		tx.alloc.Free(n)
	}
}

func (t *Tree) writeNode(n uint64, buf []byte) error {
	if err := t.dev.WriteBlock(n, buf); err != nil {
		return err
	}
	t.cache.Insert(n, buf)
	return nil
}

// childIndex implements spec.md §4.4's internal-node descent rule:
// scan keys left to right for the first key >= target; its child
// holds the subtree target falls in. If no key qualifies, target
// falls in the rightmost child, which has no upper-bound key entry.
func childIndex(node proto.Internal, target proto.Key) int {
	for i, k := range node.Keys {
		if !k.Less(target) {
			return i
		}
	}
	return len(node.Children) - 1
}

func (t *Tree) readNode(block uint64) ([]byte, error) {
	return t.cache.Get(block)
}

// subtreeMaxKey reports the largest key reachable from block, used to
// fix up a parent's key entry after its child has been rewritten. ok
// is false only for an empty leaf (retained, unmerged, after a
// deletion emptied it — spec.md §4.4 "no merge/rebalance in v1").
func (t *Tree) subtreeMaxKey(block uint64) (proto.Key, bool, error) {
	buf, err := t.readNode(block)
	if err != nil {
		return proto.Key{}, false, err
	}
	if proto.NodeLevel(buf) == 0 {
		leaf, err := proto.DecodeLeaf(buf)
		if err != nil {
			return proto.Key{}, false, err
		}
		if len(leaf.Items) == 0 {
			return proto.Key{}, false, nil
		}
		return leaf.Items[len(leaf.Items)-1].Key, true, nil
	}
	node, err := proto.DecodeInternal(buf)
	if err != nil {
		return proto.Key{}, false, err
	}
	return t.subtreeMaxKey(node.Children[len(node.Children)-1])
}
