// Package fsys interprets the B-tree engine's items as inodes,
// directory entries and extents, resolving paths from the fixed root
// inode and implementing the file read/write/remove operations of
// spec.md §3.5, §3.6 and §4.5. It also owns the superblock's in-memory
// state and commit sequencing (spec.md §4.4 "Commit").
package fsys

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fxfs/fxfs/internal/bitmap"
	"github.com/fxfs/fxfs/internal/blockcache"
	"github.com/fxfs/fxfs/internal/blockdev"
	"github.com/fxfs/fxfs/internal/btree"
	"github.com/fxfs/fxfs/internal/fxerr"
	"github.com/fxfs/fxfs/internal/fxlog"
	"github.com/fxfs/fxfs/internal/proto"
)

// Filesystem is a mounted fxfs image: the superblock's live fields,
// the bitmap allocator, the block cache, and the B-tree rooted at the
// superblock's tree_root.
type Filesystem struct {
	dev   *blockdev.Device
	cache *blockcache.Cache
	alloc *bitmap.Allocator
	tree  *btree.Tree
	log   logrus.FieldLogger

	totalBlocks uint64
	bitmapStart uint64
	dataStart   uint64
	nextInode   uint64
	freeBlocks  uint64
	generation  uint64
}

// ErrNotFound is returned by path resolution and directory lookups.
var ErrNotFound = errors.New("fsys: not found")

// ErrNotADirectory is returned when a path component resolves to a
// non-directory inode.
var ErrNotADirectory = errors.New("fsys: not a directory")

// ErrIsRoot guards spec.md §4.5 "Refuse if inode 1" for Remove.
var ErrIsRoot = errors.New("fsys: cannot remove the root inode")

// Mount loads the primary superblock, falling back to the backup if
// the primary's magic or checksum is invalid or its generation is
// older (spec.md §4.4 "Commit", §7 "Structural errors").
func Mount(dev *blockdev.Device, log logrus.FieldLogger) (*Filesystem, error) {
	if log == nil {
		log = fxlog.New()
	}
	var primaryBuf, backupBuf [proto.BlockSize]byte
	if err := dev.ReadBlock(proto.PrimarySuperblock, primaryBuf[:]); err != nil {
		return nil, errors.Wrap(err, "fsys: read primary superblock")
	}
	if err := dev.ReadBlock(proto.BackupSuperblock, backupBuf[:]); err != nil {
		return nil, errors.Wrap(err, "fsys: read backup superblock")
	}

	primary, primaryErr := proto.DecodeSuperblock(primaryBuf[:])
	backup, backupErr := proto.DecodeSuperblock(backupBuf[:])

	var sb proto.Superblock
	switch {
	case primaryErr == nil && (backupErr != nil || primary.Generation >= backup.Generation):
		sb = primary
		log.Debug("fsys: mounted from primary superblock")
	case backupErr == nil:
		sb = backup
		log.Warn("fsys: primary superblock invalid or older, fell back to backup")
	default:
		return nil, fxerr.Wrap(fxerr.Structural, fxerr.Aggregate(primaryErr, backupErr), "fsys: both superblocks invalid")
	}

	fs := &Filesystem{
		dev:         dev,
		totalBlocks: sb.TotalBlocks,
		bitmapStart: sb.BitmapStart,
		dataStart:   sb.DataStart,
		nextInode:   sb.NextInode,
		freeBlocks:  sb.FreeBlocks,
		generation:  sb.Generation,
		log:         log,
	}
	fs.cache = blockcache.New(dev)
	alloc, err := bitmap.Load(dev, fs.cache, sb.BitmapStart, sb.DataStart, sb.TotalBlocks)
	if err != nil {
		return nil, errors.Wrap(err, "fsys: load bitmap")
	}
	fs.alloc = alloc
	fs.tree = btree.New(dev, fs.cache, alloc, sb.TreeRoot)
	return fs, nil
}

// Stats is the engine-internal view of filesystem statistics; the
// handle server's control file renders it as text (spec.md §4.6
// "Control file").
type Stats struct {
	TotalBlocks uint64
	FreeBlocks  uint64
	BlockSize   uint32
	Generation  uint64
}

// Stats reports current filesystem statistics.
func (fs *Filesystem) Stats() Stats {
	return Stats{
		TotalBlocks: fs.totalBlocks,
		FreeBlocks:  fs.alloc.FreeBlocks(),
		BlockSize:   proto.BlockSize,
		Generation:  fs.generation,
	}
}

// Commit flushes the bitmap, then writes the primary and backup
// superblocks byte-identically with the bumped generation, current
// tree root, next_inode and free_blocks counters (spec.md §4.4
// "Commit"). A crash between the two superblock writes leaves the
// primary at the new generation and the backup at the previous one;
// Mount picks the higher generation.
func (fs *Filesystem) Commit() error {
	fs.generation++
	if err := fs.alloc.Flush(); err != nil {
		return errors.Wrap(err, "fsys: commit: flush bitmap")
	}

	sb := proto.Superblock{
		TotalBlocks: fs.totalBlocks,
		TreeRoot:    fs.tree.Root(),
		NextInode:   fs.nextInode,
		FreeBlocks:  fs.alloc.FreeBlocks(),
		Generation:  fs.generation,
		BitmapStart: fs.bitmapStart,
		DataStart:   fs.dataStart,
	}
	enc := sb.Encode()
	if err := fs.dev.WriteBlock(proto.PrimarySuperblock, enc[:]); err != nil {
		return errors.Wrap(err, "fsys: commit: write primary superblock")
	}
	if err := fs.dev.WriteBlock(proto.BackupSuperblock, enc[:]); err != nil {
		return errors.Wrap(err, "fsys: commit: write backup superblock")
	}
	fs.freeBlocks = sb.FreeBlocks
	fs.log.WithField("generation", fs.generation).Debug("fsys: committed")
	return nil
}

// nextGeneration is the generation CoW node writes are stamped with
// until the next Commit makes it durable (spec.md §4.4).
func (fs *Filesystem) nextGeneration() uint64 {
	return fs.generation + 1
}
