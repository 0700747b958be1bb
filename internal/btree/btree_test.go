package btree

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fxfs/fxfs/internal/proto"
)

// memDevice is an in-memory stand-in for blockdev+blockcache: it
// serves every Get from a plain map, so tests can assert directly on
// tree shape without exercising the real cache's eviction policy
// (that has its own test suite in internal/blockcache).
type memDevice struct {
	blocks    map[uint64][]byte
	next      uint64
	free      map[uint64]bool
	exhausted bool
}

func newMemDevice() *memDevice {
	return &memDevice{blocks: map[uint64][]byte{}, next: 100, free: map[uint64]bool{}}
}

func (m *memDevice) Get(n uint64) ([]byte, error) {
	b, ok := m.blocks[n]
	if !ok {
		return nil, errNotFound(n)
	}
	return b, nil
}

func (m *memDevice) Insert(n uint64, src []byte) {
	cp := make([]byte, len(src))
	copy(cp, src)
	m.blocks[n] = cp
}

func (m *memDevice) WriteBlock(n uint64, src []byte) error {
	m.Insert(n, src)
	return nil
}

func (m *memDevice) Alloc() (uint64, error) {
	if m.exhausted {
		return 0, errNotFound(0)
	}
	for {
		n := m.next
		m.next++
		if !m.free[n] {
			return n, nil
		}
	}
}

func (m *memDevice) Free(n uint64) {
	m.free[n] = true
	delete(m.blocks, n)
}

type notFoundErr uint64

func (e notFoundErr) Error() string { return "block not found" }
func errNotFound(n uint64) error    { return notFoundErr(n) }

func newEmptyTree(t *testing.T) (*Tree, *memDevice) {
	dev := newMemDevice()
	enc, err := proto.EncodeLeaf(0, nil)
	require.NoError(t, err)
	dev.Insert(1, enc[:])
	return New(dev, dev, dev, 1), dev
}

func TestInsertSearchRoundTrip(t *testing.T) {
	tree, _ := newEmptyTree(t)
	k := proto.Key{Inode: 1, Type: proto.ItemInode, Offset: 0}
	payload := []byte("hello")
	require.NoError(t, tree.Insert(k, payload, 1))

	got, ok, err := tree.Search(k)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, bytes.Equal(payload, got))
}

func TestInsertThenDeleteRemovesKey(t *testing.T) {
	tree, _ := newEmptyTree(t)
	k := proto.Key{Inode: 1, Type: proto.ItemInode, Offset: 0}
	require.NoError(t, tree.Insert(k, []byte("x"), 1))

	found, err := tree.Delete(k, 2)
	require.NoError(t, err)
	require.True(t, found)

	_, ok, err := tree.Search(k)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	tree, dev := newEmptyTree(t)
	rootBefore := tree.Root()
	blocksBefore := len(dev.blocks)

	found, err := tree.Delete(proto.Key{Inode: 9, Type: proto.ItemInode}, 1)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, rootBefore, tree.Root())
	require.Equal(t, blocksBefore, len(dev.blocks))
}

func TestInsertDuplicateKeyRejected(t *testing.T) {
	tree, _ := newEmptyTree(t)
	k := proto.Key{Inode: 1, Type: proto.ItemInode, Offset: 0}
	require.NoError(t, tree.Insert(k, []byte("a"), 1))
	err := tree.Insert(k, []byte("b"), 2)
	require.ErrorIs(t, err, ErrKeyExists)
}

func TestUpdateReplacesPayload(t *testing.T) {
	tree, _ := newEmptyTree(t)
	k := proto.Key{Inode: 1, Type: proto.ItemInode, Offset: 0}
	require.NoError(t, tree.Insert(k, []byte("a"), 1))
	require.NoError(t, tree.Update(k, []byte("bbb"), 2))

	got, ok, err := tree.Search(k)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("bbb"), got)
}

func TestOrderingInvariantAfterManyMutations(t *testing.T) {
	tree, dev := newEmptyTree(t)
	for i := uint64(0); i < 50; i++ {
		k := proto.Key{Inode: 1, Type: proto.ItemDirEntry, Offset: i}
		require.NoError(t, tree.Insert(k, []byte{byte(i)}, i+1))
	}
	for i := uint64(0); i < 50; i += 2 {
		k := proto.Key{Inode: 1, Type: proto.ItemDirEntry, Offset: i}
		_, err := tree.Delete(k, 100+i)
		require.NoError(t, err)
	}

	buf, err := dev.Get(tree.Root())
	require.NoError(t, err)
	leaf, err := proto.DecodeLeaf(buf)
	require.NoError(t, err)
	for i := 0; i < len(leaf.Items)-1; i++ {
		require.True(t, leaf.Items[i].Key.Less(leaf.Items[i+1].Key), "items must stay strictly ascending")
	}
	require.Equal(t, 25, len(leaf.Items))
}

func TestScanRangeAndCollisionRescan(t *testing.T) {
	tree, _ := newEmptyTree(t)
	require.NoError(t, tree.Insert(proto.Key{Inode: 1, Type: proto.ItemDirEntry, Offset: 42}, proto.DirEntry{ChildInode: 2, DType: proto.DTRegular, Name: "a"}.Encode(), 1))
	require.NoError(t, tree.Insert(proto.Key{Inode: 1, Type: proto.ItemDirEntry, Offset: 43}, proto.DirEntry{ChildInode: 3, DType: proto.DTRegular, Name: "b"}.Encode(), 2))
	require.NoError(t, tree.Insert(proto.Key{Inode: 2, Type: proto.ItemInode, Offset: 0}, []byte("unrelated"), 3))

	var names []string
	err := tree.Scan(1, proto.ItemDirEntry, func(k proto.Key, payload []byte) error {
		names = append(names, proto.DecodeDirEntry(payload).Name)
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestWouldSplitRefused(t *testing.T) {
	tree, _ := newEmptyTree(t)
	big := make([]byte, proto.BlockSize)
	err := tree.Insert(proto.Key{Inode: 1, Type: proto.ItemExtent, Offset: 0}, big, 1)
	require.ErrorIs(t, err, ErrWouldSplit)
}

func TestFailedAllocRollsBackAndLeavesRootUnchanged(t *testing.T) {
	tree, dev := newEmptyTree(t)
	rootBefore := tree.Root()
	blocksBefore := len(dev.blocks)

	dev.exhausted = true
	err := tree.Insert(proto.Key{Inode: 1, Type: proto.ItemInode, Offset: 0}, []byte("x"), 1)
	require.Error(t, err)
	require.Equal(t, rootBefore, tree.Root())
	require.Equal(t, blocksBefore, len(dev.blocks))
}
