package proto

import (
	"bytes"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"
)

func TestKeyOrdering(t *testing.T) {
	keys := []Key{
		{Inode: 1, Type: ItemInode, Offset: 0},
		{Inode: 1, Type: ItemDirEntry, Offset: 5},
		{Inode: 2, Type: ItemInode, Offset: 0},
	}
	for i := 0; i < len(keys)-1; i++ {
		require.True(t, keys[i].Less(keys[i+1]), "keys[%d] should sort before keys[%d]", i, i+1)
		require.False(t, keys[i+1].Less(keys[i]))
	}
}

func TestKeyRoundTrip(t *testing.T) {
	k := Key{Inode: 0xdeadbeef, Type: ItemExtent, Offset: 12345}
	got := DecodeKey(k.Encode()[:])
	require.True(t, k.Equal(got))
}

func TestSuperblockRoundTrip(t *testing.T) {
	sb := Superblock{
		TotalBlocks: 4096,
		TreeRoot:    5,
		NextInode:   2,
		FreeBlocks:  4000,
		Generation:  1,
		BitmapStart: 2,
		DataStart:   3,
	}
	enc := sb.Encode()
	got, err := DecodeSuperblock(enc[:])
	require.NoError(t, err)
	if diff := pretty.Compare(sb, got); diff != "" {
		t.Errorf("superblock round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSuperblockBadMagic(t *testing.T) {
	var b [BlockSize]byte
	copy(b[:], "NOTFXFS!")
	_, err := DecodeSuperblock(b[:])
	require.Error(t, err)
}

func TestSuperblockChecksumMismatch(t *testing.T) {
	sb := Superblock{TotalBlocks: 1, BitmapStart: 2, DataStart: 3, NextInode: 2}
	enc := sb.Encode()
	enc[16] ^= 0xff // corrupt total_blocks without fixing checksum
	_, err := DecodeSuperblock(enc[:])
	require.Error(t, err)
}

func TestLeafRoundTrip(t *testing.T) {
	items := []LeafItem{
		{Key: Key{Inode: 1, Type: ItemInode, Offset: 0}, Payload: InodeItem{Mode: SIFDIR, Nlinks: 1}.Encode()},
		{Key: Key{Inode: 1, Type: ItemDirEntry, Offset: DirNameHash("a")}, Payload: DirEntry{ChildInode: 2, DType: DTRegular, Name: "a"}.Encode()},
	}
	enc, err := EncodeLeaf(7, items)
	require.NoError(t, err)
	require.Equal(t, uint8(0), NodeLevel(enc[:]))

	leaf, err := DecodeLeaf(enc[:])
	require.NoError(t, err)
	require.Equal(t, uint64(7), leaf.Generation)
	require.Len(t, leaf.Items, 2)
	for i, it := range leaf.Items {
		require.True(t, it.Key.Equal(items[i].Key))
		require.True(t, bytes.Equal(it.Payload, items[i].Payload))
	}
}

func TestEncodeLeafOverflow(t *testing.T) {
	big := make([]byte, BlockSize)
	_, err := EncodeLeaf(0, []LeafItem{{Key: Key{Inode: 1}, Payload: big}})
	require.Error(t, err)
}

func TestInternalRoundTrip(t *testing.T) {
	keys := []Key{{Inode: 1, Type: ItemInode, Offset: 0}, {Inode: 5, Type: ItemInode, Offset: 0}}
	children := []uint64{10, 11, 12}
	enc, err := EncodeInternal(1, 3, keys, children)
	require.NoError(t, err)
	require.Equal(t, uint8(1), NodeLevel(enc[:]))

	node, err := DecodeInternal(enc[:])
	require.NoError(t, err)
	require.Equal(t, uint64(3), node.Generation)
	require.Equal(t, children, node.Children)
	for i, k := range keys {
		require.True(t, k.Equal(node.Keys[i]))
	}
}

func TestDirRecordRoundTrip(t *testing.T) {
	r := DirRecord{Name: "hello.txt", FileType: FileTypeRegular, Size: 3}
	got := DecodeDirRecord(r.Encode())
	require.Equal(t, r, got)
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	m := Message{Tag: TWrite, Data: []byte("hi\n")}
	require.NoError(t, WriteMessage(&buf, m))
	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, m.Tag, got.Tag)
	require.True(t, bytes.Equal(m.Data, got.Data))
}
