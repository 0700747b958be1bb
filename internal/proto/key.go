package proto

import (
	"encoding/binary"
	"hash/fnv"
)

// KeySize is the packed byte length of a Key (spec.md §3.3).
const KeySize = 17

// Key orders every B-tree item by (inode, item type, offset).
type Key struct {
	Inode  uint64
	Type   uint8
	Offset uint64
}

// Less reports whether k sorts strictly before other under the
// lexicographic triple order the tree relies on for every invariant.
func (k Key) Less(other Key) bool {
	if k.Inode != other.Inode {
		return k.Inode < other.Inode
	}
	if k.Type != other.Type {
		return k.Type < other.Type
	}
	return k.Offset < other.Offset
}

// Equal reports whether k and other address the same item.
func (k Key) Equal(other Key) bool {
	return k.Inode == other.Inode && k.Type == other.Type && k.Offset == other.Offset
}

// Encode packs k into its 17-byte wire form.
func (k Key) Encode() [KeySize]byte {
	var b [KeySize]byte
	binary.LittleEndian.PutUint64(b[0:8], k.Inode)
	b[8] = k.Type
	binary.LittleEndian.PutUint64(b[9:17], k.Offset)
	return b
}

// DecodeKey unpacks a 17-byte wire key.
func DecodeKey(b []byte) Key {
	_ = b[KeySize-1] // bounds check hint
	return Key{
		Inode:  binary.LittleEndian.Uint64(b[0:8]),
		Type:   b[8],
		Offset: binary.LittleEndian.Uint64(b[9:17]),
	}
}

// DirNameHash computes the 64-bit FNV-1a hash used as a DIR_ENTRY's
// offset component. Collisions are expected and tolerated; callers
// must fall back to a linear rescan of the parent's DIR_ENTRY items
// when a hash lookup misses (spec.md §3.5, §4.5).
func DirNameHash(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
