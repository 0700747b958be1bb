package proto

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Node header layout (spec.md §3.4): level(1) | num_items(2 LE) |
// pad(1) | generation(8 LE) | checksum(4 LE) = 16 bytes.
const (
	nodeHdrLevel      = 0
	nodeHdrNumItems   = 1
	nodeHdrPad        = 3
	nodeHdrGeneration = 4
	nodeHdrChecksum   = 12
	NodeHeaderLen     = 16
)

// ItemDescSize is the packed size of one leaf item descriptor:
// key(17) | data_off(2 LE) | data_size(2 LE).
const ItemDescSize = 21

// InternalKeySize is the packed size of one internal-node key entry.
const InternalKeySize = KeySize

// ChildPtrSize is the packed size of one internal-node child pointer.
const ChildPtrSize = 8

// LeafItem is one decoded leaf entry: key plus its payload slice. The
// payload slice aliases the node buffer it was decoded from and must
// be treated as borrowed — copy it before any mutation that may reuse
// the underlying cache slot (spec.md §4.4 "Lifetime rule").
type LeafItem struct {
	Key     Key
	Payload []byte
}

// Leaf is a decoded leaf node (level 0): packed items in sorted order.
type Leaf struct {
	Generation uint64
	Items      []LeafItem
}

// Internal is a decoded internal node (level > 0): Keys[i] is the
// largest key reachable through Children[i]; len(Children) ==
// len(Keys)+1.
type Internal struct {
	Level      uint8
	Generation uint64
	Keys       []Key
	Children   []uint64
}

var (
	errNodeOverflow = errors.New("proto: leaf would not fit in one block")
	errShortNode    = errors.New("proto: node buffer shorter than one block")
)

// EncodeLeaf packs items (already sorted and deduplicated by the
// caller) into a full BlockSize buffer. Descriptors grow forward from
// offset 16; payloads grow backward from the end of the block.
func EncodeLeaf(generation uint64, items []LeafItem) ([BlockSize]byte, error) {
	var b [BlockSize]byte
	descEnd := NodeHeaderLen + len(items)*ItemDescSize
	payloadCursor := BlockSize
	for _, it := range items {
		payloadCursor -= len(it.Payload)
	}
	if payloadCursor < descEnd {
		return b, errNodeOverflow
	}

	b[nodeHdrLevel] = 0
	binary.LittleEndian.PutUint16(b[nodeHdrNumItems:], uint16(len(items)))
	binary.LittleEndian.PutUint64(b[nodeHdrGeneration:], generation)

	off := NodeHeaderLen
	cursor := BlockSize
	for _, it := range items {
		cursor -= len(it.Payload)
		copy(b[cursor:cursor+len(it.Payload)], it.Payload)

		kb := it.Key.Encode()
		copy(b[off:off+KeySize], kb[:])
		binary.LittleEndian.PutUint16(b[off+KeySize:], uint16(cursor))
		binary.LittleEndian.PutUint16(b[off+KeySize+2:], uint16(len(it.Payload)))
		off += ItemDescSize
	}
	return b, nil
}

// DecodeLeaf unpacks a leaf node. Returned payload slices alias b.
func DecodeLeaf(b []byte) (Leaf, error) {
	if len(b) < BlockSize {
		return Leaf{}, errShortNode
	}
	n := int(binary.LittleEndian.Uint16(b[nodeHdrNumItems:]))
	gen := binary.LittleEndian.Uint64(b[nodeHdrGeneration:])
	items := make([]LeafItem, 0, n)
	off := NodeHeaderLen
	for i := 0; i < n; i++ {
		k := DecodeKey(b[off : off+KeySize])
		dataOff := int(binary.LittleEndian.Uint16(b[off+KeySize:]))
		dataSize := int(binary.LittleEndian.Uint16(b[off+KeySize+2:]))
		if dataOff < 0 || dataOff+dataSize > BlockSize {
			return Leaf{}, errors.Errorf("proto: item %d payload out of range", i)
		}
		items = append(items, LeafItem{Key: k, Payload: b[dataOff : dataOff+dataSize]})
		off += ItemDescSize
	}
	return Leaf{Generation: gen, Items: items}, nil
}

// EncodeInternal packs an internal node. len(children) must equal
// len(keys)+1.
func EncodeInternal(level uint8, generation uint64, keys []Key, children []uint64) ([BlockSize]byte, error) {
	var b [BlockSize]byte
	if len(children) != len(keys)+1 {
		return b, errors.New("proto: internal node needs one more child than keys")
	}
	end := NodeHeaderLen + len(keys)*InternalKeySize + len(children)*ChildPtrSize
	if end > BlockSize {
		return b, errNodeOverflow
	}
	b[nodeHdrLevel] = level
	binary.LittleEndian.PutUint16(b[nodeHdrNumItems:], uint16(len(keys)))
	binary.LittleEndian.PutUint64(b[nodeHdrGeneration:], generation)

	off := NodeHeaderLen
	for _, k := range keys {
		kb := k.Encode()
		copy(b[off:off+KeySize], kb[:])
		off += InternalKeySize
	}
	for _, c := range children {
		binary.LittleEndian.PutUint64(b[off:], c)
		off += ChildPtrSize
	}
	return b, nil
}

// DecodeInternal unpacks an internal node.
func DecodeInternal(b []byte) (Internal, error) {
	if len(b) < BlockSize {
		return Internal{}, errShortNode
	}
	level := b[nodeHdrLevel]
	n := int(binary.LittleEndian.Uint16(b[nodeHdrNumItems:]))
	gen := binary.LittleEndian.Uint64(b[nodeHdrGeneration:])

	keys := make([]Key, 0, n)
	off := NodeHeaderLen
	for i := 0; i < n; i++ {
		keys = append(keys, DecodeKey(b[off:off+KeySize]))
		off += InternalKeySize
	}
	children := make([]uint64, 0, n+1)
	for i := 0; i < n+1; i++ {
		children = append(children, binary.LittleEndian.Uint64(b[off:]))
		off += ChildPtrSize
	}
	return Internal{Level: level, Generation: gen, Keys: keys, Children: children}, nil
}

// NodeLevel reads just the level byte, used by the tree walker to
// decide whether to decode a block as Leaf or Internal.
func NodeLevel(b []byte) uint8 {
	return b[nodeHdrLevel]
}
