package fsys

import (
	"strings"

	"github.com/fxfs/fxfs/internal/proto"
)

// Resolve walks path from the root inode, one component at a time.
// Consecutive slashes and a trailing slash are skipped, not errors; an
// empty or "/"-only path resolves to the root inode (spec.md §4.5
// "Path resolution").
func (fs *Filesystem) Resolve(path string) (uint64, error) {
	inode := uint64(proto.RootInode)
	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}
		item, err := fs.inodeItem(inode)
		if err != nil {
			return 0, err
		}
		if !proto.IsDir(item.Mode) {
			return 0, ErrNotADirectory
		}
		child, ok, err := fs.DirLookup(inode, component)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrNotFound
		}
		inode = child
	}
	return inode, nil
}

// ResolveParent resolves the directory containing path's final
// component, returning that directory's inode and the component name.
// Used by Create and Remove, which both need the parent to mutate a
// DIR_ENTRY.
func (fs *Filesystem) ResolveParent(path string) (parent uint64, name string, err error) {
	components := make([]string, 0, 4)
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			components = append(components, c)
		}
	}
	if len(components) == 0 {
		return 0, "", ErrNotFound
	}
	name = components[len(components)-1]
	dirPath := "/" + strings.Join(components[:len(components)-1], "/")
	parent, err = fs.Resolve(dirPath)
	return parent, name, err
}

// DirLookup hashes name with FNV-1a and searches for the DIR_ENTRY
// item at that offset; on a hash miss or a hash collision where the
// stored name doesn't match, it falls back to a linear rescan of
// every DIR_ENTRY item under dirInode (spec.md §4.5 "Directory
// lookup", guarding against the hash collisions spec.md §3.5 and §8
// property 5 require tolerating).
func (fs *Filesystem) DirLookup(dirInode uint64, name string) (uint64, bool, error) {
	_, entry, ok, err := fs.findDirEntry(dirInode, name)
	if err != nil || !ok {
		return 0, false, err
	}
	return entry.ChildInode, true, nil
}

// findDirEntry locates name's DIR_ENTRY item under dirInode, returning
// its key (which may differ from the plain hash(name) offset if a
// colliding name was inserted first — see insertDirEntry) along with
// the decoded entry.
func (fs *Filesystem) findDirEntry(dirInode uint64, name string) (proto.Key, proto.DirEntry, bool, error) {
	hash := proto.DirNameHash(name)
	key := proto.Key{Inode: dirInode, Type: proto.ItemDirEntry, Offset: hash}
	if payload, ok, err := fs.tree.Search(key); err != nil {
		return proto.Key{}, proto.DirEntry{}, false, err
	} else if ok {
		entry := proto.DecodeDirEntry(payload)
		if entry.Name == name {
			return key, entry, true, nil
		}
	}

	var foundKey proto.Key
	var found proto.DirEntry
	var ok bool
	err := fs.tree.Scan(dirInode, proto.ItemDirEntry, func(k proto.Key, payload []byte) error {
		entry := proto.DecodeDirEntry(payload)
		if entry.Name == name {
			foundKey, found, ok = k, entry, true
		}
		return nil
	})
	if err != nil {
		return proto.Key{}, proto.DirEntry{}, false, err
	}
	return foundKey, found, ok, nil
}

func (fs *Filesystem) inodeItem(inode uint64) (proto.InodeItem, error) {
	key := proto.Key{Inode: inode, Type: proto.ItemInode, Offset: 0}
	payload, ok, err := fs.tree.Search(key)
	if err != nil {
		return proto.InodeItem{}, err
	}
	if !ok {
		return proto.InodeItem{}, ErrNotFound
	}
	item := proto.DecodeInodeItem(payload)
	return item, nil
}
