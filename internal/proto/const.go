// Package proto defines the on-disk and on-wire layouts shared by the
// block device, B-tree, inode and handle-server packages: the
// superblock, the B-tree key and node headers, item-type tags, and the
// request/response framing used on the handle channel.
package proto

// BlockSize is the fixed unit of device I/O and the size of every
// B-tree node and superblock.
const BlockSize = 4096

// Superblock locations, duplicated for durability (spec.md §3.2).
const (
	PrimarySuperblock = 0
	BackupSuperblock  = 1
)

// Magic identifies an fxfs image. No other version is accepted.
const Magic = "FXFS0001"

// Item types, the second component of a Key.
const (
	ItemInode    = 1
	ItemDirEntry = 2
	ItemExtent   = 3
)

// Directory entry dt_type values.
const (
	DTRegular   = 1
	DTDirectory = 2
)

// RootInode is created by the formatter and is never deleted.
const RootInode = 1

// SentinelInode refers to the read-only virtual control file.
const SentinelInode = ^uint64(0)

// InlineCapacity is the largest EXTENT_DATA payload stored directly in
// a B-tree leaf before a file is promoted to an extent.
const InlineCapacity = 3800

// MaxHandles is the number of eligible handle-table slots (1..32);
// slot 0 is reserved invalid.
const MaxHandles = 32

// CacheSlots is the fixed size of the block cache.
const CacheSlots = 16

// MaxTreeDepth bounds search/scan descent (spec.md §4.4).
const MaxTreeDepth = 10

// Mode bits relevant to path resolution (others are stored, never
// checked — permissions enforcement is out of scope).
const (
	SIFMT  = 0170000
	SIFDIR = 0040000
	SIFREG = 0100000
)
