package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carvealloc/carve/alloc"
)

func TestTLSFCoalesce(t *testing.T) {
	var ba alloc.TLSF
	base := uintptr(1) << 32
	ba.Init(base, 4096)

	a, err := ba.Alloc(1000, 16)
	require.NoError(t, err)
	b, err := ba.Alloc(1000, 16)
	require.NoError(t, err)
	c, err := ba.Alloc(1000, 16)
	require.NoError(t, err)

	// freed neighbors merge back into one block covering the region
	require.NoError(t, ba.Dealloc(a, 1000))
	require.NoError(t, ba.Dealloc(c, 1000))
	require.NoError(t, ba.Dealloc(b, 1000))

	whole, err := ba.Alloc(4096, 16)
	require.NoError(t, err)
	require.Equal(t, base, whole)
}

func TestTLSFAddRegionContiguous(t *testing.T) {
	var ba alloc.TLSF
	base := uintptr(1) << 32
	ba.Init(base, 4096)
	require.NoError(t, ba.AddRegion(base+4096, 4096))

	// a single allocation spans the seam only if the donations merged
	addr, err := ba.Alloc(8192, 16)
	require.NoError(t, err)
	require.Equal(t, base, addr)
	require.NoError(t, ba.Dealloc(addr, 8192))

	// a disjoint donation must stay independent
	require.NoError(t, ba.AddRegion(base+1<<20, 4096))
	_, err = ba.Alloc(12288, 16)
	require.Equal(t, alloc.ErrNoMemory, err)
}

func TestTLSFAlign(t *testing.T) {
	var ba alloc.TLSF
	base := uintptr(1) << 32
	ba.Init(base, 1<<16)

	// skew the region state first
	_, err := ba.Alloc(24, 16)
	require.NoError(t, err)

	for _, align := range []uintptr{16, 64, 1024, 4096} {
		addr, err := ba.Alloc(100, align)
		require.NoError(t, err)
		require.Zero(t, addr%align)
	}
}

func TestTLSFSplitThreshold(t *testing.T) {
	var ba alloc.TLSF
	base := uintptr(1) << 32
	ba.Init(base, 4096)

	// 4090 rounds to 4096: the 6-byte tail cannot stand alone and must
	// ride along instead of becoming a zero-ish free block
	addr, err := ba.Alloc(4090, 16)
	require.NoError(t, err)
	require.Equal(t, uintptr(4090), ba.UsedBytes())
	require.Equal(t, uintptr(0), ba.AvailBytes())

	require.NoError(t, ba.Dealloc(addr, 4090))
	require.Equal(t, uintptr(4096), ba.AvailBytes())
}
