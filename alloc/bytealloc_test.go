package alloc_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carvealloc/carve/alloc"
)

// Byte allocators keep their bookkeeping out-of-band, so the common
// harness drives them over a made-up address space and cross-checks
// against a dumb model: alignment, containment in donated ranges, no
// overlap between live allocations, and exact used-byte accounting.

type liveAlloc struct {
	addr, size uintptr
}

func checkByteAlloc(t *testing.T, mk func() alloc.ByteAlloc, seed int64) {
	rnd := rand.New(rand.NewSource(seed))
	ba := mk()
	base := uintptr(1) << 32
	ba.Init(base, 1<<16)
	ranges := [][2]uintptr{{base, base + 1<<16}}
	require.True(t, ba.TotalBytes() <= 1<<16)
	require.Equal(t, uintptr(0), ba.UsedBytes())

	var live []liveAlloc
	sum := uintptr(0)
	aligns := []uintptr{1, 2, 8, 16, 64, 256}
	for i := 0; i < 4000; i++ {
		if rnd.Intn(3) < 2 {
			size := uintptr(rnd.Intn(500) + 1)
			align := aligns[rnd.Intn(len(aligns))]
			addr, err := ba.Alloc(size, align)
			if err != nil {
				require.Equal(t, alloc.ErrNoMemory, err)
				nb := ranges[len(ranges)-1][1] + 1<<20
				require.NoError(t, ba.AddRegion(nb, 1<<16))
				ranges = append(ranges, [2]uintptr{nb, nb + 1<<16})
				continue
			}
			require.Zero(t, addr%align)
			inside := false
			for _, r := range ranges {
				if addr >= r[0] && addr+size <= r[1] {
					inside = true
				}
			}
			require.True(t, inside, "[%x,%x) outside donated ranges", addr, addr+size)
			for _, l := range live {
				require.True(t, addr+size <= l.addr || l.addr+l.size <= addr,
					"overlap: new [%x,%x) live [%x,%x)", addr, addr+size, l.addr, l.addr+l.size)
			}
			live = append(live, liveAlloc{addr, size})
			sum += size
		} else if len(live) > 0 {
			k := rnd.Intn(len(live))
			l := live[k]
			require.NoError(t, ba.Dealloc(l.addr, l.size))
			live[k] = live[len(live)-1]
			live = live[:len(live)-1]
			sum -= l.size
		}
		require.Equal(t, sum, ba.UsedBytes())
		require.True(t, ba.AvailBytes() <= ba.TotalBytes())
	}
	for _, l := range live {
		require.NoError(t, ba.Dealloc(l.addr, l.size))
	}
	require.Equal(t, uintptr(0), ba.UsedBytes())
}

func checkBadFree(t *testing.T, mk func() alloc.ByteAlloc) {
	ba := mk()
	base := uintptr(1) << 32
	ba.Init(base, 1<<16)

	addr, err := ba.Alloc(100, 8)
	require.NoError(t, err)
	require.Error(t, ba.Dealloc(addr+8, 92))
	require.Error(t, ba.Dealloc(addr, 99))
	require.Error(t, ba.Dealloc(base-4096, 100))
	require.Equal(t, uintptr(100), ba.UsedBytes())

	require.NoError(t, ba.Dealloc(addr, 100))
	require.Equal(t, alloc.ErrBadFree, ba.Dealloc(addr, 100))
	require.Equal(t, uintptr(0), ba.UsedBytes())
}

func checkExhaustion(t *testing.T, mk func() alloc.ByteAlloc) {
	ba := mk()
	base := uintptr(1) << 32
	ba.Init(base, 1<<16)

	a, err := ba.Alloc(64, 8)
	require.NoError(t, err)
	used, avail := ba.UsedBytes(), ba.AvailBytes()

	_, err = ba.Alloc(1<<30, 8)
	require.Equal(t, alloc.ErrNoMemory, err)
	require.Equal(t, used, ba.UsedBytes())
	require.Equal(t, avail, ba.AvailBytes())

	// prior state is intact
	require.NoError(t, ba.Dealloc(a, 64))
	require.Equal(t, uintptr(0), ba.UsedBytes())
}

func TestTLSFModel(t *testing.T) {
	checkByteAlloc(t, func() alloc.ByteAlloc { return &alloc.TLSF{} }, 1)
	checkBadFree(t, func() alloc.ByteAlloc { return &alloc.TLSF{} })
	checkExhaustion(t, func() alloc.ByteAlloc { return &alloc.TLSF{} })
}

func TestSlabModel(t *testing.T) {
	checkByteAlloc(t, func() alloc.ByteAlloc { return &alloc.Slab{} }, 2)
	checkBadFree(t, func() alloc.ByteAlloc { return &alloc.Slab{} })
	checkExhaustion(t, func() alloc.ByteAlloc { return &alloc.Slab{} })
}

func TestBuddyModel(t *testing.T) {
	checkByteAlloc(t, func() alloc.ByteAlloc { return &alloc.Buddy{} }, 3)
	checkBadFree(t, func() alloc.ByteAlloc { return &alloc.Buddy{} })
	checkExhaustion(t, func() alloc.ByteAlloc { return &alloc.Buddy{} })
}

func TestNewByteAlloc(t *testing.T) {
	require.IsType(t, &alloc.TLSF{}, alloc.NewByteAlloc(""))
	require.IsType(t, &alloc.TLSF{}, alloc.NewByteAlloc("tlsf"))
	require.IsType(t, &alloc.Slab{}, alloc.NewByteAlloc("slab"))
	require.IsType(t, &alloc.Buddy{}, alloc.NewByteAlloc("buddy"))
	require.Nil(t, alloc.NewByteAlloc("bump"))
}
