package btree

import (
	"github.com/fxfs/fxfs/internal/proto"
)

// Search returns the payload stored at key, if any. The returned
// slice is borrowed from the block cache: it is invalidated by any
// later Insert, Delete, or Update that reuses the slot it lives in.
// Callers that need the value to survive a mutation must copy it
// first (spec.md §4.4 "Lifetime rule").
func (t *Tree) Search(key proto.Key) ([]byte, bool, error) {
	block := t.root
	for depth := 0; ; depth++ {
		if depth > proto.MaxTreeDepth {
			return nil, false, ErrTooDeep
		}
		buf, err := t.readNode(block)
		if err != nil {
			return nil, false, err
		}
		if proto.NodeLevel(buf) == 0 {
			leaf, err := proto.DecodeLeaf(buf)
			if err != nil {
				return nil, false, err
			}
			for _, it := range leaf.Items {
				if it.Key.Equal(key) {
					return it.Payload, true, nil
				}
				if key.Less(it.Key) {
					return nil, false, nil
				}
			}
			return nil, false, nil
		}
		node, err := proto.DecodeInternal(buf)
		if err != nil {
			return nil, false, err
		}
		block = node.Children[childIndex(node, key)]
	}
}

// Scan calls f for every item whose (inode, type) matches, in
// ascending offset order, stopping at the first item outside that
// range or when f returns an error. It is used for directory
// enumeration and DIR_ENTRY hash-collision rescans (spec.md §4.4
// "Range scan").
func (t *Tree) Scan(inode uint64, itemType uint8, f func(proto.Key, []byte) error) error {
	start := proto.Key{Inode: inode, Type: itemType, Offset: 0}
	block := t.root
	for depth := 0; ; depth++ {
		if depth > proto.MaxTreeDepth {
			return ErrTooDeep
		}
		buf, err := t.readNode(block)
		if err != nil {
			return err
		}
		if proto.NodeLevel(buf) == 0 {
			leaf, err := proto.DecodeLeaf(buf)
			if err != nil {
				return err
			}
			for _, it := range leaf.Items {
				if it.Key.Inode != inode || it.Key.Type != itemType {
					if start.Less(it.Key) {
						break
					}
					continue
				}
				if err := f(it.Key, it.Payload); err != nil {
					return err
				}
			}
			return nil
		}
		node, err := proto.DecodeInternal(buf)
		if err != nil {
			return err
		}
		block = node.Children[childIndex(node, start)]
	}
}
