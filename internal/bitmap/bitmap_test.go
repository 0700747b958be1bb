package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fxfs/fxfs/internal/proto"
)

type fakeDevice struct {
	blocks map[uint64][proto.BlockSize]byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{blocks: map[uint64][proto.BlockSize]byte{}}
}

func (f *fakeDevice) ReadBlock(n uint64, dst []byte) error {
	b := f.blocks[n]
	copy(dst, b[:])
	return nil
}

func (f *fakeDevice) WriteBlock(n uint64, src []byte) error {
	var b [proto.BlockSize]byte
	copy(b[:], src)
	f.blocks[n] = b
	return nil
}

type fakeCache struct {
	invalidated []uint64
}

func (c *fakeCache) Invalidate(n uint64) { c.invalidated = append(c.invalidated, n) }

func TestAllocFreeRoundTrip(t *testing.T) {
	dev := newFakeDevice()
	cache := &fakeCache{}
	a := New(dev, cache, 2, 4, 100)

	n, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, uint64(4), n, "alloc should return the lowest free block at/after dataStart")

	n2, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, uint64(5), n2)

	a.Free(n)
	require.Contains(t, cache.invalidated, n)

	n3, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, n, n3, "freed block should be the next one reused")
}

func TestAllocExhaustion(t *testing.T) {
	dev := newFakeDevice()
	a := New(dev, nil, 2, 4, 5)
	n, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, uint64(4), n, "block 4 is the only block at/after dataStart")
	_, err = a.Alloc()
	require.Error(t, err)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	dev := newFakeDevice()
	a := New(dev, nil, 2, 4, 100000)
	for i := 0; i < 5; i++ {
		_, err := a.Alloc()
		require.NoError(t, err)
	}
	require.NoError(t, a.Flush())

	loaded, err := Load(dev, nil, 2, 4, 100000)
	require.NoError(t, err)
	require.Equal(t, a.FreeBlocks(), loaded.FreeBlocks())
	require.False(t, loaded.IsFree(4))
	require.True(t, loaded.IsFree(9))
}

func TestMarkUsed(t *testing.T) {
	dev := newFakeDevice()
	a := New(dev, nil, 2, 4, 20)
	a.MarkUsed(0)
	a.MarkUsed(1)
	require.False(t, a.IsFree(0))
	require.False(t, a.IsFree(1))
	require.True(t, a.IsFree(4))
}
