package proto

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// Superblock is the fixed geometry header, written byte-identically at
// blocks 0 and 1 (spec.md §3.2, §6.1).
type Superblock struct {
	TotalBlocks uint64
	TreeRoot    uint64
	NextInode   uint64
	FreeBlocks  uint64
	Generation  uint64
	BitmapStart uint64
	DataStart   uint64
}

// Layout offsets, spec.md §6.1.
const (
	sbOffMagic       = 0
	sbOffBlockSize   = 8
	sbOffReserved0   = 12
	sbOffTotalBlocks = 16
	sbOffTreeRoot    = 24
	sbOffNextInode   = 32
	sbOffFreeBlocks  = 40
	sbOffGeneration  = 48
	sbOffBitmapStart = 56
	sbOffDataStart   = 64
	sbOffChecksum    = 72
	sbHeaderLen      = 80
)

var errShortSuperblock = errors.New("proto: superblock buffer shorter than one block")

// Encode serializes sb into a full BlockSize buffer, magic, block size
// and checksum included. The checksum covers bytes [0,80) with the
// checksum field itself zeroed, per spec.md §6.1.
func (sb Superblock) Encode() [BlockSize]byte {
	var b [BlockSize]byte
	copy(b[sbOffMagic:], Magic)
	binary.LittleEndian.PutUint32(b[sbOffBlockSize:], BlockSize)
	binary.LittleEndian.PutUint64(b[sbOffTotalBlocks:], sb.TotalBlocks)
	binary.LittleEndian.PutUint64(b[sbOffTreeRoot:], sb.TreeRoot)
	binary.LittleEndian.PutUint64(b[sbOffNextInode:], sb.NextInode)
	binary.LittleEndian.PutUint64(b[sbOffFreeBlocks:], sb.FreeBlocks)
	binary.LittleEndian.PutUint64(b[sbOffGeneration:], sb.Generation)
	binary.LittleEndian.PutUint64(b[sbOffBitmapStart:], sb.BitmapStart)
	binary.LittleEndian.PutUint64(b[sbOffDataStart:], sb.DataStart)
	csum := crc32.ChecksumIEEE(b[0:sbHeaderLen])
	binary.LittleEndian.PutUint32(b[sbOffChecksum:], csum)
	return b
}

// DecodeSuperblock validates magic, block size and checksum, returning
// the parsed fields. A bad magic or checksum is a structural error
// (spec.md §7); callers fall back to the backup superblock.
func DecodeSuperblock(b []byte) (Superblock, error) {
	if len(b) < BlockSize {
		return Superblock{}, errShortSuperblock
	}
	if string(b[sbOffMagic:sbOffMagic+8]) != Magic {
		return Superblock{}, errors.Errorf("proto: bad magic %q", b[sbOffMagic:sbOffMagic+8])
	}
	if binary.LittleEndian.Uint32(b[sbOffBlockSize:]) != BlockSize {
		return Superblock{}, errors.New("proto: unsupported block size")
	}
	var check [BlockSize]byte
	copy(check[:], b[:BlockSize])
	binary.LittleEndian.PutUint32(check[sbOffChecksum:], 0)
	want := binary.LittleEndian.Uint32(b[sbOffChecksum:])
	got := crc32.ChecksumIEEE(check[0:sbHeaderLen])
	if want != got {
		return Superblock{}, errors.Errorf("proto: superblock checksum mismatch: want %x got %x", want, got)
	}
	return Superblock{
		TotalBlocks: binary.LittleEndian.Uint64(b[sbOffTotalBlocks:]),
		TreeRoot:    binary.LittleEndian.Uint64(b[sbOffTreeRoot:]),
		NextInode:   binary.LittleEndian.Uint64(b[sbOffNextInode:]),
		FreeBlocks:  binary.LittleEndian.Uint64(b[sbOffFreeBlocks:]),
		Generation:  binary.LittleEndian.Uint64(b[sbOffGeneration:]),
		BitmapStart: binary.LittleEndian.Uint64(b[sbOffBitmapStart:]),
		DataStart:   binary.LittleEndian.Uint64(b[sbOffDataStart:]),
	}, nil
}
