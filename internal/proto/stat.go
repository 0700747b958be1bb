package proto

import "encoding/binary"

// StatLen is the size of a T_STAT response (spec.md §6.2).
const StatLen = 64

// FileTypeRegular and FileTypeDirectory are T_STAT's file_type values.
const (
	FileTypeRegular   = 0
	FileTypeDirectory = 1
)

// Stat is a decoded T_STAT response.
type Stat struct {
	Size     uint32
	FileType uint32
}

// Encode packs a Stat into its 64-byte wire form, reserved bytes zero.
func (s Stat) Encode() []byte {
	b := make([]byte, StatLen)
	binary.LittleEndian.PutUint32(b[0:], s.Size)
	binary.LittleEndian.PutUint32(b[4:], s.FileType)
	return b
}

// DecodeStat unpacks a 64-byte T_STAT response.
func DecodeStat(b []byte) Stat {
	return Stat{
		Size:     binary.LittleEndian.Uint32(b[0:]),
		FileType: binary.LittleEndian.Uint32(b[4:]),
	}
}

// DirRecordLen is the size of one packed directory-entry record
// returned from a directory read (spec.md §6.3).
const DirRecordLen = 72

const dirRecordNameLen = 64

// DirRecord is one decoded directory-entry record.
type DirRecord struct {
	Name     string
	FileType uint32
	Size     uint32
}

// Encode packs a DirRecord into its 72-byte wire form: name padded
// with zero bytes to 64, then file_type and size (4 LE each).
func (r DirRecord) Encode() []byte {
	b := make([]byte, DirRecordLen)
	copy(b[0:dirRecordNameLen], r.Name)
	binary.LittleEndian.PutUint32(b[dirRecordNameLen:], r.FileType)
	binary.LittleEndian.PutUint32(b[dirRecordNameLen+4:], r.Size)
	return b
}

// DecodeDirRecord unpacks one 72-byte directory-entry record.
func DecodeDirRecord(b []byte) DirRecord {
	name := b[0:dirRecordNameLen]
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}
	return DirRecord{
		Name:     string(name[:n]),
		FileType: binary.LittleEndian.Uint32(b[dirRecordNameLen:]),
		Size:     binary.LittleEndian.Uint32(b[dirRecordNameLen+4:]),
	}
}
