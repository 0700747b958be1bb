package btree

import (
	"github.com/fxfs/fxfs/internal/proto"
)

// Delete removes key from the tree, copy-on-write, symmetric to
// Insert. It reports whether key was present; if it was not, the tree
// is left completely unmutated (spec.md §4.4 "CoW delete"). An empty
// leaf left behind by deleting its last item is retained as-is — v1
// does no merge or rebalance.
func (t *Tree) Delete(key proto.Key, generation uint64) (bool, error) {
	tx := &transaction{alloc: t.alloc}
	newRoot, found, err := t.deleteRec(t.root, 0, key, generation, tx)
	if err != nil {
		tx.rollback()
		return false, err
	}
	if !found {
		return false, nil
	}
	t.root = newRoot
	tx.commitFrees()
	return true, nil
}

func (t *Tree) deleteRec(block uint64, depth int, key proto.Key, generation uint64, tx *transaction) (uint64, bool, error) {
	if depth > proto.MaxTreeDepth {
		return 0, false, ErrTooDeep
	}
	buf, err := t.readNode(block)
	if err != nil {
		return 0, false, err
	}

	if proto.NodeLevel(buf) == 0 {
		leaf, err := proto.DecodeLeaf(buf)
		if err != nil {
			return 0, false, err
		}
		idx := -1
		for i, it := range leaf.Items {
			if it.Key.Equal(key) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return block, false, nil
		}
		items := make([]proto.LeafItem, 0, len(leaf.Items)-1)
		items = append(items, leaf.Items[:idx]...)
		items = append(items, leaf.Items[idx+1:]...)

		enc, err := proto.EncodeLeaf(generation, items)
		if err != nil {
			return 0, false, err
		}
		newBlock, err := tx.allocBlock()
		if err != nil {
			return 0, false, err
		}
		if err := t.writeNode(newBlock, enc[:]); err != nil {
			return 0, false, err
		}
		tx.markFreed(block)
		return newBlock, true, nil
	}

	node, err := proto.DecodeInternal(buf)
	if err != nil {
		return 0, false, err
	}
	idx := childIndex(node, key)
	newChild, found, err := t.deleteRec(node.Children[idx], depth+1, key, generation, tx)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return block, false, nil
	}
	node.Children[idx] = newChild
	if idx < len(node.Keys) {
		if maxKey, ok, err := t.subtreeMaxKey(newChild); err != nil {
			return 0, false, err
		} else if ok {
			node.Keys[idx] = maxKey
		}
	}

	enc, err := proto.EncodeInternal(node.Level, generation, node.Keys, node.Children)
	if err != nil {
		return 0, false, err
	}
	newBlock, err := tx.allocBlock()
	if err != nil {
		return 0, false, err
	}
	if err := t.writeNode(newBlock, enc[:]); err != nil {
		return 0, false, err
	}
	tx.markFreed(block)
	return newBlock, true, nil
}

// Update replaces the payload at key: delete then insert, matching
// spec.md §4.4's defined composition. If key is absent, Update still
// inserts it.
func (t *Tree) Update(key proto.Key, data []byte, generation uint64) error {
	if _, err := t.Delete(key, generation); err != nil {
		return err
	}
	return t.Insert(key, data, generation)
}
