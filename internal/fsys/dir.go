package fsys

import (
	"github.com/pkg/errors"

	"github.com/fxfs/fxfs/internal/btree"
	"github.com/fxfs/fxfs/internal/proto"
)

// ErrExists is returned by Create when name is already present in the
// parent directory.
var ErrExists = errors.New("fsys: already exists")

const maxHashProbe = 1 << 16

// Create allocates a new inode (next_inode, bumped and persisted at
// commit — spec.md §3.6 "Inode lifecycle") and links it into parent
// under name. isDir selects between a regular file and a directory
// INODE_ITEM and DIR_ENTRY dt_type (spec.md §4.6 "flags bit 0").
func (fs *Filesystem) Create(parent uint64, name string, isDir bool) (uint64, error) {
	if _, _, ok, err := fs.findDirEntry(parent, name); err != nil {
		return 0, err
	} else if ok {
		return 0, ErrExists
	}

	inode := fs.nextInode
	mode := uint16(proto.SIFREG)
	dtype := uint8(proto.DTRegular)
	if isDir {
		mode = proto.SIFDIR
		dtype = proto.DTDirectory
	}
	item := proto.InodeItem{Mode: mode, Nlinks: 1}
	gen := fs.nextGeneration()
	if err := fs.tree.Insert(proto.Key{Inode: inode, Type: proto.ItemInode, Offset: 0}, item.Encode(), gen); err != nil {
		return 0, errors.Wrap(err, "fsys: create: insert inode item")
	}
	if err := fs.insertDirEntry(parent, name, inode, dtype, gen); err != nil {
		return 0, errors.Wrap(err, "fsys: create: insert dir entry")
	}
	fs.nextInode++

	if err := fs.Commit(); err != nil {
		return 0, err
	}
	return inode, nil
}

// insertDirEntry places a DIR_ENTRY at hash(name), linearly probing
// forward by one offset at a time when that key is already taken by a
// colliding name (spec.md §3.5 "Hash collisions are tolerated"). Every
// lookup still hashes first and falls back to a full rescan, so the
// exact probed offset never needs to be reconstructed by a reader.
func (fs *Filesystem) insertDirEntry(parent uint64, name string, child uint64, dtype uint8, generation uint64) error {
	entry := proto.DirEntry{ChildInode: child, DType: dtype, Name: name}
	payload := entry.Encode()
	offset := proto.DirNameHash(name)
	for attempt := 0; attempt < maxHashProbe; attempt++ {
		key := proto.Key{Inode: parent, Type: proto.ItemDirEntry, Offset: offset}
		err := fs.tree.Insert(key, payload, generation)
		if err == nil {
			return nil
		}
		if !errors.Is(err, btree.ErrKeyExists) {
			return err
		}
		offset++
	}
	return errors.New("fsys: directory entry hash probe exhausted")
}

// List calls f for every DIR_ENTRY under dirInode, used to satisfy
// directory reads (spec.md §4.6 "Reading from a handle whose inode is
// a directory").
func (fs *Filesystem) List(dirInode uint64, f func(proto.DirEntry) error) error {
	return fs.tree.Scan(dirInode, proto.ItemDirEntry, func(_ proto.Key, payload []byte) error {
		return f(proto.DecodeDirEntry(payload))
	})
}
