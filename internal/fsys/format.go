package fsys

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fxfs/fxfs/internal/bitmap"
	"github.com/fxfs/fxfs/internal/blockcache"
	"github.com/fxfs/fxfs/internal/blockdev"
	"github.com/fxfs/fxfs/internal/btree"
	"github.com/fxfs/fxfs/internal/fxlog"
	"github.com/fxfs/fxfs/internal/proto"
)

// Format lays down a brand new fxfs image on dev: both superblocks,
// the free-space bitmap, an empty root leaf, and a root directory
// inode at proto.RootInode (spec.md §3.2 "Mount", §3.6 "Inode
// lifecycle"). dev must already be sized to totalBlocks (see
// blockdev.Create).
func Format(dev *blockdev.Device, totalBlocks uint64, log logrus.FieldLogger) (*Filesystem, error) {
	if log == nil {
		log = fxlog.New()
	}

	bitmapStart := uint64(2) // blocks 0,1 are the primary/backup superblocks
	bitmapBlocks := bitmapBlocksFor(totalBlocks)
	dataStart := bitmapStart + bitmapBlocks
	rootBlock := dataStart

	if rootBlock >= totalBlocks {
		return nil, errors.New("fsys: format: device too small for superblocks, bitmap and root leaf")
	}

	cache := blockcache.New(dev)
	alloc := bitmap.New(dev, cache, bitmapStart, dataStart, totalBlocks)
	for n := uint64(0); n < dataStart; n++ {
		alloc.MarkUsed(n)
	}
	alloc.MarkUsed(rootBlock)

	rootItem := proto.InodeItem{Mode: proto.SIFDIR, Nlinks: 1}
	leafItem := proto.LeafItem{
		Key:     proto.Key{Inode: proto.RootInode, Type: proto.ItemInode, Offset: 0},
		Payload: rootItem.Encode(),
	}
	leafBuf, err := proto.EncodeLeaf(1, []proto.LeafItem{leafItem})
	if err != nil {
		return nil, errors.Wrap(err, "fsys: format: encode root leaf")
	}
	if err := dev.WriteBlock(rootBlock, leafBuf[:]); err != nil {
		return nil, errors.Wrap(err, "fsys: format: write root leaf")
	}
	cache.Insert(rootBlock, leafBuf[:])

	fs := &Filesystem{
		dev:         dev,
		cache:       cache,
		alloc:       alloc,
		tree:        btree.New(dev, cache, alloc, rootBlock),
		log:         log,
		totalBlocks: totalBlocks,
		bitmapStart: bitmapStart,
		dataStart:   dataStart,
		nextInode:   proto.RootInode + 1,
		generation:  0,
	}
	if err := fs.Commit(); err != nil {
		return nil, errors.Wrap(err, "fsys: format: initial commit")
	}
	return fs, nil
}

func bitmapBlocksFor(totalBlocks uint64) uint64 {
	bitsPerBlock := uint64(proto.BlockSize * 8)
	return (totalBlocks + bitsPerBlock - 1) / bitsPerBlock
}
