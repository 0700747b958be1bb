package fsys

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/fxfs/fxfs/internal/blockdev"
	"github.com/fxfs/fxfs/internal/proto"
)

func newTestFS(t *testing.T) *Filesystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image")
	dev, err := blockdev.Create(path, 256)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	fs, err := Format(dev, 256, log)
	require.NoError(t, err)
	return fs
}

func TestFormatProducesRootDirectory(t *testing.T) {
	fs := newTestFS(t)
	stats := fs.Stats()
	require.Equal(t, uint64(256), stats.TotalBlocks)
	require.Equal(t, uint32(proto.BlockSize), stats.BlockSize)

	item, err := fs.Inode(proto.RootInode)
	require.NoError(t, err)
	require.True(t, proto.IsDir(item.Mode))
}

func TestCreateAndLookupRegularFile(t *testing.T) {
	fs := newTestFS(t)
	inode, err := fs.Create(proto.RootInode, "hello.txt", false)
	require.NoError(t, err)

	got, err := fs.Resolve("/hello.txt")
	require.NoError(t, err)
	require.Equal(t, inode, got)
}

func TestCreateDuplicateNameRejected(t *testing.T) {
	fs := newTestFS(t)
	_, err := fs.Create(proto.RootInode, "dup", false)
	require.NoError(t, err)
	_, err = fs.Create(proto.RootInode, "dup", true)
	require.ErrorIs(t, err, ErrExists)
}

func TestCreateDirectoryAndNestedPath(t *testing.T) {
	fs := newTestFS(t)
	dir, err := fs.Create(proto.RootInode, "sub", true)
	require.NoError(t, err)

	file, err := fs.Create(dir, "leaf.txt", false)
	require.NoError(t, err)

	got, err := fs.Resolve("/sub/leaf.txt")
	require.NoError(t, err)
	require.Equal(t, file, got)
}

func TestResolveMissingComponentIsNotFound(t *testing.T) {
	fs := newTestFS(t)
	_, err := fs.Resolve("/nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveThroughRegularFileIsNotADirectory(t *testing.T) {
	fs := newTestFS(t)
	_, err := fs.Create(proto.RootInode, "f", false)
	require.NoError(t, err)
	_, err = fs.Resolve("/f/x")
	require.ErrorIs(t, err, ErrNotADirectory)
}

func TestInlineWriteReadRoundTrip(t *testing.T) {
	fs := newTestFS(t)
	inode, err := fs.Create(proto.RootInode, "small.txt", false)
	require.NoError(t, err)

	data := []byte("hello, fxfs")
	n, err := fs.Write(inode, 0, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	got, err := fs.Read(inode, 0, uint32(len(data)))
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))
}

func TestInlineWriteWithGapZeroFills(t *testing.T) {
	fs := newTestFS(t)
	inode, err := fs.Create(proto.RootInode, "gap.txt", false)
	require.NoError(t, err)

	_, err = fs.Write(inode, 10, []byte("tail"))
	require.NoError(t, err)

	got, err := fs.Read(inode, 0, 14)
	require.NoError(t, err)
	require.Equal(t, 14, len(got))
	require.True(t, bytes.Equal(make([]byte, 10), got[:10]))
	require.True(t, bytes.Equal([]byte("tail"), got[10:]))
}

func TestInlineWriteOverlayPreservesSurroundingBytes(t *testing.T) {
	fs := newTestFS(t)
	inode, err := fs.Create(proto.RootInode, "overlay.txt", false)
	require.NoError(t, err)

	_, err = fs.Write(inode, 0, []byte("0123456789"))
	require.NoError(t, err)
	_, err = fs.Write(inode, 3, []byte("XYZ"))
	require.NoError(t, err)

	got, err := fs.Read(inode, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("012XYZ6789"), got)
}

func TestExtentWritePromotesLargeFile(t *testing.T) {
	fs := newTestFS(t)
	inode, err := fs.Create(proto.RootInode, "big.bin", false)
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0xAB}, proto.InlineCapacity+1024)
	_, err = fs.Write(inode, 0, data)
	require.NoError(t, err)

	// An extent-backed read returns at most the rest of one block, so
	// the file comes back in two reads.
	got, err := fs.Read(inode, 0, uint32(len(data)))
	require.NoError(t, err)
	require.True(t, bytes.Equal(data[:proto.BlockSize], got))

	got, err = fs.Read(inode, proto.BlockSize, uint32(len(data)))
	require.NoError(t, err)
	require.True(t, bytes.Equal(data[proto.BlockSize:], got))
}

func TestReadPastEOFReturnsNoBytes(t *testing.T) {
	fs := newTestFS(t)
	inode, err := fs.Create(proto.RootInode, "empty.txt", false)
	require.NoError(t, err)

	_, err = fs.Write(inode, 0, []byte("abc"))
	require.NoError(t, err)

	got, err := fs.Read(inode, 100, 10)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRemoveDeletesFileAndFreesExtent(t *testing.T) {
	fs := newTestFS(t)
	inode, err := fs.Create(proto.RootInode, "doomed.bin", false)
	require.NoError(t, err)
	data := bytes.Repeat([]byte{1}, proto.InlineCapacity+512)
	_, err = fs.Write(inode, 0, data)
	require.NoError(t, err)

	freeBefore := fs.Stats().FreeBlocks

	removed, err := fs.Remove("/doomed.bin")
	require.NoError(t, err)
	require.Equal(t, inode, removed)

	_, err = fs.Resolve("/doomed.bin")
	require.ErrorIs(t, err, ErrNotFound)
	require.Greater(t, fs.Stats().FreeBlocks, freeBefore)
}

func TestRemoveRootIsRefused(t *testing.T) {
	fs := newTestFS(t)
	_, err := fs.Remove("/")
	require.ErrorIs(t, err, ErrIsRoot)
}

func TestListDirectoryEntries(t *testing.T) {
	fs := newTestFS(t)
	_, err := fs.Create(proto.RootInode, "a", false)
	require.NoError(t, err)
	_, err = fs.Create(proto.RootInode, "b", true)
	require.NoError(t, err)

	var names []string
	err = fs.List(proto.RootInode, func(e proto.DirEntry) error {
		names = append(names, e.Name)
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestExtentDemotionToInlineFreesOldBlocks(t *testing.T) {
	fs := newTestFS(t)
	inode, err := fs.Create(proto.RootInode, "shrink.bin", false)
	require.NoError(t, err)

	big := bytes.Repeat([]byte{0xCD}, proto.InlineCapacity+1024)
	_, err = fs.Write(inode, 0, big)
	require.NoError(t, err)
	freeAfterExtent := fs.Stats().FreeBlocks

	_, err = fs.Write(inode, 0, []byte("small again"))
	require.NoError(t, err)

	require.Greater(t, fs.Stats().FreeBlocks, freeAfterExtent)

	got, err := fs.Read(inode, 0, 11)
	require.NoError(t, err)
	require.Equal(t, []byte("small again"), got)
}

func TestDirectoryEntryHashCollisionIsResolved(t *testing.T) {
	fs := newTestFS(t)

	first, err := fs.Create(proto.RootInode, "first", false)
	require.NoError(t, err)

	// Simulate a genuine FNV-1a DirNameHash collision between "first"
	// and "second" by pre-occupying the offset "second" would
	// naturally hash to with "first"'s entry, the same situation
	// insertDirEntry's linear probe is built to tolerate (dir.go,
	// spec.md §3.5, §8 Required Property 5).
	collidingOffset := proto.DirNameHash("second")
	firstEntry := proto.DirEntry{ChildInode: first, DType: proto.DTRegular, Name: "first"}
	gen := fs.nextGeneration()
	err = fs.tree.Insert(proto.Key{Inode: proto.RootInode, Type: proto.ItemDirEntry, Offset: collidingOffset}, firstEntry.Encode(), gen)
	require.NoError(t, err)
	require.NoError(t, fs.Commit())

	second, err := fs.Create(proto.RootInode, "second", false)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// "second" must have been probed forward to the next offset, since
	// its natural hash slot was already occupied.
	probedKey, probedEntry, ok, err := fs.findDirEntry(proto.RootInode, "second")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, probedEntry.ChildInode)
	require.Equal(t, collidingOffset+1, probedKey.Offset)

	gotFirst, err := fs.Resolve("/first")
	require.NoError(t, err)
	require.Equal(t, first, gotFirst)
	gotSecond, err := fs.Resolve("/second")
	require.NoError(t, err)
	require.Equal(t, second, gotSecond)

	var names []string
	err = fs.List(proto.RootInode, func(e proto.DirEntry) error {
		names = append(names, e.Name)
		return nil
	})
	require.NoError(t, err)
	// The setup left two entries named "first" (its own hash slot and
	// the pre-occupied one), so the scan sees three entries.
	require.ElementsMatch(t, []string{"first", "first", "second"}, names)
}

func TestMountFallsBackToBackupSuperblockOnCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	dev, err := blockdev.Create(path, 256)
	require.NoError(t, err)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	fs, err := Format(dev, 256, log)
	require.NoError(t, err)
	_, err = fs.Create(proto.RootInode, "survives", false)
	require.NoError(t, err)
	require.NoError(t, dev.Sync())

	// Zero out the primary superblock, as if a crash landed mid-write;
	// the backup (written byte-identically at the last successful
	// Commit) must still mount (spec.md §8 Required Property 4).
	var zero [proto.BlockSize]byte
	require.NoError(t, dev.WriteBlock(proto.PrimarySuperblock, zero[:]))

	fs2, err := Mount(dev, log)
	require.NoError(t, err)

	got, err := fs2.Resolve("/survives")
	require.NoError(t, err)
	require.NotZero(t, got)
}

func TestMountPicksHigherGenerationSuperblock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	dev, err := blockdev.Create(path, 256)
	require.NoError(t, err)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	_, err = Format(dev, 256, log)
	require.NoError(t, err)
	require.NoError(t, dev.Sync())

	var primaryBuf [proto.BlockSize]byte
	require.NoError(t, dev.ReadBlock(proto.PrimarySuperblock, primaryBuf[:]))
	sb, err := proto.DecodeSuperblock(primaryBuf[:])
	require.NoError(t, err)

	// Leave a stale, lower-generation superblock in the backup slot;
	// both decode cleanly, and Mount must keep the primary's newer
	// generation rather than the stale backup.
	stale := sb
	stale.Generation = sb.Generation - 1
	staleEnc := stale.Encode()
	require.NoError(t, dev.WriteBlock(proto.BackupSuperblock, staleEnc[:]))

	fs2, err := Mount(dev, log)
	require.NoError(t, err)
	require.Equal(t, sb.Generation, fs2.generation)
}

func TestCommitPersistsAcrossRemount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	dev, err := blockdev.Create(path, 256)
	require.NoError(t, err)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	fs, err := Format(dev, 256, log)
	require.NoError(t, err)
	_, err = fs.Create(proto.RootInode, "persisted", false)
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	dev2, err := blockdev.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { dev2.Close() })
	fs2, err := Mount(dev2, log)
	require.NoError(t, err)

	got, err := fs2.Resolve("/persisted")
	require.NoError(t, err)
	require.NotZero(t, got)
}
