package btree

import (
	"github.com/fxfs/fxfs/internal/proto"
)

// Insert adds (key, data) to the tree, copy-on-write: every node on
// the path from the root to the target leaf is rewritten at a freshly
// allocated block stamped with generation, and the superseded blocks
// are freed only after the whole path has been durably rewritten.
// Inserting over an existing key is rejected — spec.md §4.4 leaves
// that case undefined; callers use Update.
func (t *Tree) Insert(key proto.Key, data []byte, generation uint64) error {
	tx := &transaction{alloc: t.alloc}
	newRoot, _, err := t.insertRec(t.root, 0, key, data, generation, tx)
	if err != nil {
		tx.rollback()
		return err
	}
	t.root = newRoot
	tx.commitFrees()
	return nil
}

func (t *Tree) insertRec(block uint64, depth int, key proto.Key, data []byte, generation uint64, tx *transaction) (uint64, proto.Key, error) {
	if depth > proto.MaxTreeDepth {
		return 0, proto.Key{}, ErrTooDeep
	}
	buf, err := t.readNode(block)
	if err != nil {
		return 0, proto.Key{}, err
	}

	if proto.NodeLevel(buf) == 0 {
		leaf, err := proto.DecodeLeaf(buf)
		if err != nil {
			return 0, proto.Key{}, err
		}
		items := make([]proto.LeafItem, 0, len(leaf.Items)+1)
		inserted := false
		for _, it := range leaf.Items {
			if it.Key.Equal(key) {
				return 0, proto.Key{}, ErrKeyExists
			}
			if !inserted && key.Less(it.Key) {
				items = append(items, proto.LeafItem{Key: key, Payload: data})
				inserted = true
			}
			items = append(items, it)
		}
		if !inserted {
			items = append(items, proto.LeafItem{Key: key, Payload: data})
		}

		enc, err := proto.EncodeLeaf(generation, items)
		if err != nil {
			return 0, proto.Key{}, ErrWouldSplit
		}
		newBlock, err := tx.allocBlock()
		if err != nil {
			return 0, proto.Key{}, err
		}
		if err := t.writeNode(newBlock, enc[:]); err != nil {
			return 0, proto.Key{}, err
		}
		tx.markFreed(block)
		return newBlock, items[len(items)-1].Key, nil
	}

	node, err := proto.DecodeInternal(buf)
	if err != nil {
		return 0, proto.Key{}, err
	}
	idx := childIndex(node, key)
	newChild, _, err := t.insertRec(node.Children[idx], depth+1, key, data, generation, tx)
	if err != nil {
		return 0, proto.Key{}, err
	}
	node.Children[idx] = newChild
	if idx < len(node.Keys) {
		if maxKey, ok, err := t.subtreeMaxKey(newChild); err != nil {
			return 0, proto.Key{}, err
		} else if ok {
			node.Keys[idx] = maxKey
		}
	}

	enc, err := proto.EncodeInternal(node.Level, generation, node.Keys, node.Children)
	if err != nil {
		return 0, proto.Key{}, err
	}
	newBlock, err := tx.allocBlock()
	if err != nil {
		return 0, proto.Key{}, err
	}
	if err := t.writeNode(newBlock, enc[:]); err != nil {
		return 0, proto.Key{}, err
	}
	tx.markFreed(block)

	maxKey, _, err := t.subtreeMaxKey(node.Children[len(node.Children)-1])
	if err != nil {
		return 0, proto.Key{}, err
	}
	return newBlock, maxKey, nil
}
