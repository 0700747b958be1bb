package proto

import "encoding/binary"

// InodeItemLen is the packed size of an INODE_ITEM payload
// (spec.md §3.5): mode, uid, gid, nlinks (2 each), size (8), atime,
// mtime, ctime (8 each).
const InodeItemLen = 40

// InodeItem is the INODE_ITEM payload (type 1, offset 0).
type InodeItem struct {
	Mode   uint16
	UID    uint16
	GID    uint16
	Nlinks uint16
	Size   uint64
	Atime  uint64
	Mtime  uint64
	Ctime  uint64
}

// Encode packs an InodeItem into its 40-byte wire form.
func (i InodeItem) Encode() []byte {
	b := make([]byte, InodeItemLen)
	binary.LittleEndian.PutUint16(b[0:], i.Mode)
	binary.LittleEndian.PutUint16(b[2:], i.UID)
	binary.LittleEndian.PutUint16(b[4:], i.GID)
	binary.LittleEndian.PutUint16(b[6:], i.Nlinks)
	binary.LittleEndian.PutUint64(b[8:], i.Size)
	binary.LittleEndian.PutUint64(b[16:], i.Atime)
	binary.LittleEndian.PutUint64(b[24:], i.Mtime)
	binary.LittleEndian.PutUint64(b[32:], i.Ctime)
	return b
}

// DecodeInodeItem unpacks a 40-byte INODE_ITEM payload.
func DecodeInodeItem(b []byte) InodeItem {
	return InodeItem{
		Mode:   binary.LittleEndian.Uint16(b[0:]),
		UID:    binary.LittleEndian.Uint16(b[2:]),
		GID:    binary.LittleEndian.Uint16(b[4:]),
		Nlinks: binary.LittleEndian.Uint16(b[6:]),
		Size:   binary.LittleEndian.Uint64(b[8:]),
		Atime:  binary.LittleEndian.Uint64(b[16:]),
		Mtime:  binary.LittleEndian.Uint64(b[24:]),
		Ctime:  binary.LittleEndian.Uint64(b[32:]),
	}
}

// IsDir reports whether mode's file-type bits mark a directory.
func IsDir(mode uint16) bool { return mode&SIFMT == SIFDIR }

// DirEntry is the DIR_ENTRY payload (type 2, offset = FNV-1a(name)):
// child_inode(8) | dt_type(1) | name_len(1) | name.
type DirEntry struct {
	ChildInode uint64
	DType      uint8
	Name       string
}

// Encode packs a DirEntry into its variable-length wire form.
func (e DirEntry) Encode() []byte {
	b := make([]byte, 10+len(e.Name))
	binary.LittleEndian.PutUint64(b[0:], e.ChildInode)
	b[8] = e.DType
	b[9] = uint8(len(e.Name))
	copy(b[10:], e.Name)
	return b
}

// DecodeDirEntry unpacks a DIR_ENTRY payload.
func DecodeDirEntry(b []byte) DirEntry {
	nameLen := int(b[9])
	return DirEntry{
		ChildInode: binary.LittleEndian.Uint64(b[0:]),
		DType:      b[8],
		Name:       string(b[10 : 10+nameLen]),
	}
}

// ExtentRefLen is the packed size of an extent reference (as opposed
// to inline data, which is any other length).
const ExtentRefLen = 16

// ExtentRef is an EXTENT_DATA payload shaped as a reference to a
// contiguous run of data blocks rather than inline bytes.
type ExtentRef struct {
	DiskBlock uint64
	NumBlocks uint32
}

// Encode packs an ExtentRef into its 16-byte wire form.
func (e ExtentRef) Encode() []byte {
	b := make([]byte, ExtentRefLen)
	binary.LittleEndian.PutUint64(b[0:], e.DiskBlock)
	binary.LittleEndian.PutUint32(b[8:], e.NumBlocks)
	return b
}

// DecodeExtentRef unpacks a 16-byte extent reference.
func DecodeExtentRef(b []byte) ExtentRef {
	return ExtentRef{
		DiskBlock: binary.LittleEndian.Uint64(b[0:]),
		NumBlocks: binary.LittleEndian.Uint32(b[8:]),
	}
}

// IsExtentRef reports whether an EXTENT_DATA payload is shaped as an
// extent reference rather than inline data: exactly 16 bytes with a
// nonzero disk_block (spec.md §3.5).
func IsExtentRef(payload []byte) bool {
	if len(payload) != ExtentRefLen {
		return false
	}
	return binary.LittleEndian.Uint64(payload[0:8]) != 0
}
