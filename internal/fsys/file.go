package fsys

import (
	"github.com/pkg/errors"

	"github.com/fxfs/fxfs/internal/proto"
)

// Read copies up to len bytes starting at offset from inode's
// contents, returning fewer bytes (possibly zero) at EOF, never an
// error for reading past the end of the file (spec.md §4.5 "File
// read").
func (fs *Filesystem) Read(inode uint64, offset uint64, length uint32) ([]byte, error) {
	extKey := proto.Key{Inode: inode, Type: proto.ItemExtent, Offset: 0}
	payload, ok, err := fs.tree.Search(extKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if proto.IsExtentRef(payload) {
		ref := proto.DecodeExtentRef(payload)
		item, err := fs.inodeItem(inode)
		if err != nil {
			return nil, err
		}
		if offset >= item.Size {
			return nil, nil
		}
		want := uint64(length)
		if offset+want > item.Size {
			want = item.Size - offset
		}
		blockIdx := offset / proto.BlockSize
		inBlock := offset % proto.BlockSize
		if want > proto.BlockSize-inBlock {
			want = proto.BlockSize - inBlock
		}
		if blockIdx >= uint64(ref.NumBlocks) {
			return nil, nil
		}
		return fs.readExtentBlock(ref, blockIdx, inBlock, want)
	}

	// Inline data: copy directly, honoring offset/len/EOF.
	if offset >= uint64(len(payload)) {
		return nil, nil
	}
	end := offset + uint64(length)
	if end > uint64(len(payload)) {
		end = uint64(len(payload))
	}
	out := make([]byte, end-offset)
	copy(out, payload[offset:end])
	return out, nil
}

func (fs *Filesystem) readExtentBlock(ref proto.ExtentRef, blockIdx, inBlock, want uint64) ([]byte, error) {
	var block [proto.BlockSize]byte
	if err := fs.dev.ReadBlock(ref.DiskBlock+blockIdx, block[:]); err != nil {
		return nil, errors.Wrap(err, "fsys: read extent block")
	}
	out := make([]byte, want)
	copy(out, block[inBlock:inBlock+want])
	return out, nil
}

// Write overlays data at cursor, zero-filling any gap when cursor is
// beyond the current size, growing the file inline up to
// proto.InlineCapacity bytes and promoting it to a single contiguous
// extent beyond that (spec.md §4.5 "File write"). It commits before
// returning.
func (fs *Filesystem) Write(inode uint64, cursor uint64, data []byte) (int, error) {
	newEnd := cursor + uint64(len(data))
	gen := fs.nextGeneration()
	extKey := proto.Key{Inode: inode, Type: proto.ItemExtent, Offset: 0}

	if newEnd <= proto.InlineCapacity {
		if err := fs.writeInline(inode, extKey, cursor, data, gen); err != nil {
			return 0, err
		}
	} else {
		if err := fs.writeExtent(inode, extKey, cursor, data, gen); err != nil {
			return 0, err
		}
	}

	item, err := fs.inodeItem(inode)
	if err != nil {
		return 0, err
	}
	if newEnd > item.Size {
		item.Size = newEnd
	}
	if err := fs.tree.Update(proto.Key{Inode: inode, Type: proto.ItemInode, Offset: 0}, item.Encode(), gen); err != nil {
		return 0, errors.Wrap(err, "fsys: write: update inode size")
	}
	if err := fs.Commit(); err != nil {
		return 0, err
	}
	return len(data), nil
}

// writeInline reads any existing inline payload into a caller-owned
// buffer *before* deleting the old item, since Search's result is
// borrowed from the cache and a subsequent Delete can reuse that slot
// (spec.md §4.4 "Lifetime rule", §4.5 "File write" step 1, §9 "Open
// question").
func (fs *Filesystem) writeInline(inode uint64, extKey proto.Key, cursor uint64, data []byte, gen uint64) error {
	var old []byte
	var oldRef *proto.ExtentRef
	if payload, ok, err := fs.tree.Search(extKey); err != nil {
		return err
	} else if ok {
		if proto.IsExtentRef(payload) {
			r := proto.DecodeExtentRef(payload)
			oldRef = &r
		} else {
			old = append([]byte(nil), payload...)
		}
	}

	newEnd := cursor + uint64(len(data))
	size := newEnd
	if uint64(len(old)) > size {
		size = uint64(len(old))
	}
	merged := make([]byte, size)
	copy(merged, old) // zero-fills any gap past len(old) automatically
	copy(merged[cursor:], data)

	if _, err := fs.tree.Delete(extKey, gen); err != nil {
		return errors.Wrap(err, "fsys: write: delete old inline extent")
	}
	if err := fs.tree.Insert(extKey, merged, gen); err != nil {
		return errors.Wrap(err, "fsys: write: insert inline extent")
	}

	// The old payload was extent-backed: those blocks are now
	// unreachable from the tree and must return to the free pool
	// (spec.md §8 Required Property 3 "Bitmap agreement").
	if oldRef != nil {
		for i := uint32(0); i < oldRef.NumBlocks; i++ {
			fs.alloc.Free(oldRef.DiskBlock + uint64(i))
		}
	}
	return nil
}

// writeExtent promotes (or extends) a file to a single contiguous
// extent. Any pre-existing inline payload or extent contents are
// preserved around the written range, and a fresh extent is always
// allocated as one run of ceil(new_end/4096) contiguous blocks:
// spec.md §4.5 requires failing the whole write, freeing every block
// allocated so far, if contiguity ever breaks.
func (fs *Filesystem) writeExtent(inode uint64, extKey proto.Key, cursor uint64, data []byte, gen uint64) error {
	newEnd := cursor + uint64(len(data))

	var oldRef *proto.ExtentRef
	var oldInline []byte
	if payload, ok, err := fs.tree.Search(extKey); err != nil {
		return err
	} else if ok {
		if proto.IsExtentRef(payload) {
			r := proto.DecodeExtentRef(payload)
			oldRef = &r
			if oldSize := uint64(r.NumBlocks) * proto.BlockSize; oldSize > newEnd {
				newEnd = oldSize
			}
		} else {
			oldInline = append([]byte(nil), payload...)
			if uint64(len(oldInline)) > newEnd {
				newEnd = uint64(len(oldInline))
			}
		}
	}
	numBlocks := uint32((newEnd + proto.BlockSize - 1) / proto.BlockSize)

	blocks, err := fs.allocContiguous(numBlocks)
	if err != nil {
		return errors.Wrap(err, "fsys: write: allocate contiguous extent")
	}

	if err := fs.populateExtent(blocks, oldRef, oldInline, cursor, data); err != nil {
		for _, b := range blocks {
			fs.alloc.Free(b)
		}
		return err
	}

	if oldRef != nil {
		for i := uint32(0); i < oldRef.NumBlocks; i++ {
			fs.alloc.Free(oldRef.DiskBlock + uint64(i))
		}
	}

	ref := proto.ExtentRef{DiskBlock: blocks[0], NumBlocks: numBlocks}
	if _, err := fs.tree.Delete(extKey, gen); err != nil {
		return errors.Wrap(err, "fsys: write: delete old extent item")
	}
	if err := fs.tree.Insert(extKey, ref.Encode(), gen); err != nil {
		return errors.Wrap(err, "fsys: write: insert extent reference")
	}
	return nil
}

// allocContiguous allocates numBlocks blocks and requires each to be
// exactly one greater than the previous; if contiguity breaks, every
// block allocated so far is freed and an error is returned (spec.md
// §4.5 "Otherwise allocate... requiring each returned block to be
// exactly one greater than the previous").
func (fs *Filesystem) allocContiguous(numBlocks uint32) ([]uint64, error) {
	blocks := make([]uint64, 0, numBlocks)
	for i := uint32(0); i < numBlocks; i++ {
		n, err := fs.alloc.Alloc()
		if err != nil {
			for _, b := range blocks {
				fs.alloc.Free(b)
			}
			return nil, err
		}
		if len(blocks) > 0 && n != blocks[len(blocks)-1]+1 {
			fs.alloc.Free(n)
			for _, b := range blocks {
				fs.alloc.Free(b)
			}
			return nil, errors.New("fsys: could not allocate a contiguous extent")
		}
		blocks = append(blocks, n)
	}
	return blocks, nil
}

// populateExtent writes data (overlaid at cursor) into the freshly
// allocated blocks, preserving whatever the file previously held
// around the written range and zero-filling any gap, then writes
// every other block of the new extent as zero.
func (fs *Filesystem) populateExtent(blocks []uint64, oldRef *proto.ExtentRef, oldInline []byte, cursor uint64, data []byte) error {
	total := uint64(len(blocks)) * proto.BlockSize
	buf := make([]byte, total)

	if oldRef != nil {
		for i := uint32(0); i < oldRef.NumBlocks; i++ {
			var b [proto.BlockSize]byte
			if err := fs.dev.ReadBlock(oldRef.DiskBlock+uint64(i), b[:]); err != nil {
				return errors.Wrap(err, "fsys: read old extent block")
			}
			copy(buf[uint64(i)*proto.BlockSize:], b[:])
		}
	} else if oldInline != nil {
		copy(buf, oldInline)
	}

	copy(buf[cursor:], data)

	for i, blockNum := range blocks {
		if err := fs.dev.WriteBlock(blockNum, buf[uint64(i)*proto.BlockSize:uint64(i+1)*proto.BlockSize]); err != nil {
			return errors.Wrap(err, "fsys: write extent block")
		}
		fs.cache.Insert(blockNum, buf[uint64(i)*proto.BlockSize:uint64(i+1)*proto.BlockSize])
	}
	return nil
}

// Remove deletes path: its DIR_ENTRY from the parent, any extent
// blocks it owned, its EXTENT_DATA and INODE_ITEM items, and leaves
// any handle still pointing at the inode for the handle server to
// deactivate (spec.md §4.5 "File remove").
func (fs *Filesystem) Remove(path string) (removedInode uint64, err error) {
	inode, err := fs.Resolve(path)
	if err != nil {
		return 0, err
	}
	if inode == proto.RootInode {
		return 0, ErrIsRoot
	}
	parent, name, err := fs.ResolveParent(path)
	if err != nil {
		return 0, err
	}

	key, _, ok, err := fs.findDirEntry(parent, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}

	gen := fs.nextGeneration()
	if _, err := fs.tree.Delete(key, gen); err != nil {
		return 0, errors.Wrap(err, "fsys: remove: delete dir entry")
	}

	extKey := proto.Key{Inode: inode, Type: proto.ItemExtent, Offset: 0}
	if payload, ok, err := fs.tree.Search(extKey); err != nil {
		return 0, err
	} else if ok {
		if proto.IsExtentRef(payload) {
			ref := proto.DecodeExtentRef(payload)
			for i := uint32(0); i < ref.NumBlocks; i++ {
				fs.alloc.Free(ref.DiskBlock + uint64(i))
			}
		}
		if _, err := fs.tree.Delete(extKey, gen); err != nil {
			return 0, errors.Wrap(err, "fsys: remove: delete extent item")
		}
	}

	inodeKey := proto.Key{Inode: inode, Type: proto.ItemInode, Offset: 0}
	if _, err := fs.tree.Delete(inodeKey, gen); err != nil {
		return 0, errors.Wrap(err, "fsys: remove: delete inode item")
	}

	if err := fs.Commit(); err != nil {
		return 0, err
	}
	return inode, nil
}

// Inode exposes the decoded INODE_ITEM for T_STAT and the handle
// server's directory-vs-regular checks.
func (fs *Filesystem) Inode(inode uint64) (proto.InodeItem, error) {
	return fs.inodeItem(inode)
}
