package alloc

import "math/bits"

// Buddy is the simplest variant: power-of-two blocks from 64 bytes up,
// one free set per order, buddies merged on free. Internal
// fragmentation is the price (a 65-byte request occupies 128), though
// the exact requested size is still what UsedBytes reports. Free blocks
// always sit at an offset that is a multiple of their size within their
// donated range; frees go through a decomposition that restores this
// invariant even for blocks carved at odd offsets for big alignments.
type Buddy struct {
	frees  [buddyOrders]map[uintptr]struct{}
	busy   map[uintptr]buddyBusy
	ranges []buddyRange
	total  uintptr
	inUse  uintptr
	live   uintptr
}

const (
	buddyShift  = 6 // min block 64
	buddyOrders = 26
	buddyMax    = uintptr(1) << (buddyShift + buddyOrders - 1)
)

type buddyRange struct {
	base, size uintptr
}

type buddyBusy struct {
	size uintptr // pow2 block bytes
	req  uintptr
}

func buddyOrder(bs uintptr) int {
	return bits.Len64(uint64(bs)) - 1 - buddyShift
}

func npow2(v uintptr) uintptr {
	if v&(v-1) == 0 {
		return v
	}
	return 1 << uint(bits.Len64(uint64(v)))
}

func (b *Buddy) Init(addr, size uintptr) {
	b.busy = make(map[uintptr]buddyBusy)
	for i := range b.frees {
		b.frees[i] = make(map[uintptr]struct{})
	}
	b.addRange(addr, size)
}

func (b *Buddy) AddRegion(addr, size uintptr) error {
	if b.busy == nil {
		return ErrNotInitialized
	}
	b.addRange(addr, size)
	return nil
}

// A donation continuing an existing range extends it in place, which
// keeps old offsets valid and lets blocks merge across the seam.
func (b *Buddy) addRange(addr, size uintptr) {
	a := alignUp(addr, 1<<buddyShift)
	if a < addr || size < a-addr+(1<<buddyShift) {
		return
	}
	size = alignDown(size-(a-addr), 1<<buddyShift)
	b.total += size
	for i := range b.ranges {
		r := &b.ranges[i]
		if r.base+r.size == a {
			r.size += size
			b.release(a, size)
			return
		}
	}
	b.ranges = append(b.ranges, buddyRange{base: a, size: size})
	b.release(a, size)
}

func (b *Buddy) rangeOf(addr uintptr) *buddyRange {
	for i := range b.ranges {
		r := &b.ranges[i]
		if addr >= r.base && addr < r.base+r.size {
			return r
		}
	}
	return nil
}

// release returns [addr, addr+size) to the free sets, decomposed into
// the largest blocks whose in-range offset divides evenly.
func (b *Buddy) release(addr, size uintptr) {
	r := b.rangeOf(addr)
	for size >= 1<<buddyShift {
		off := addr - r.base
		bs := buddyMax
		if off != 0 {
			bs = off & -off
			if bs > buddyMax {
				bs = buddyMax
			}
		}
		for bs > size {
			bs >>= 1
		}
		b.freeBlock(r, addr, bs)
		addr += bs
		size -= bs
	}
}

func (b *Buddy) freeBlock(r *buddyRange, addr, bs uintptr) {
	for {
		o := buddyOrder(bs)
		if o+1 >= buddyOrders {
			b.frees[o][addr] = struct{}{}
			return
		}
		buddy := r.base + ((addr - r.base) ^ bs)
		if buddy < r.base || buddy+bs > r.base+r.size {
			b.frees[o][addr] = struct{}{}
			return
		}
		if _, ok := b.frees[o][buddy]; !ok {
			b.frees[o][addr] = struct{}{}
			return
		}
		delete(b.frees[o], buddy)
		if buddy < addr {
			addr = buddy
		}
		bs <<= 1
	}
}

// takeBlock picks the lowest-address free block of the smallest
// sufficient order and splits down, keeping the search deterministic.
func (b *Buddy) takeBlock(bs uintptr) (uintptr, bool) {
	for o := buddyOrder(bs); o < buddyOrders; o++ {
		if len(b.frees[o]) == 0 {
			continue
		}
		var addr uintptr
		first := true
		for a := range b.frees[o] {
			if first || a < addr {
				addr = a
				first = false
			}
		}
		delete(b.frees[o], addr)
		cur := uintptr(1) << uint(o+buddyShift)
		for cur > bs {
			cur >>= 1
			b.frees[buddyOrder(cur)][addr+cur] = struct{}{}
		}
		return addr, true
	}
	return 0, false
}

func (b *Buddy) Alloc(size, align uintptr) (uintptr, error) {
	if b.busy == nil {
		return 0, ErrNoMemory
	}
	if align == 0 {
		align = 1
	}
	n := size
	if align > n {
		n = align
	}
	if n < 1<<buddyShift {
		n = 1 << buddyShift
	}
	bs := npow2(n)
	if bs < n || bs > buddyMax {
		return 0, ErrNoMemory
	}
	// Range bases are page-aligned and offsets are multiples of the
	// block size, so natural placement covers any align up to PageSize.
	if align <= PageSize {
		addr, ok := b.takeBlock(bs)
		if !ok {
			return 0, ErrNoMemory
		}
		b.busy[addr] = buddyBusy{size: bs, req: size}
		b.inUse += bs
		b.live += size
		return addr, nil
	}
	bs = npow2(size)
	if bs < 1<<buddyShift {
		bs = 1 << buddyShift
	}
	big := npow2(bs + align)
	if big < bs || big > buddyMax {
		return 0, ErrNoMemory
	}
	addr, ok := b.takeBlock(big)
	if !ok {
		return 0, ErrNoMemory
	}
	target := alignUp(addr, align)
	b.release(addr, target-addr)
	b.release(target+bs, addr+big-(target+bs))
	b.busy[target] = buddyBusy{size: bs, req: size}
	b.inUse += bs
	b.live += size
	return target, nil
}

func (b *Buddy) Dealloc(addr, size uintptr) error {
	bb, ok := b.busy[addr]
	if !ok || bb.req != size {
		return ErrBadFree
	}
	delete(b.busy, addr)
	b.inUse -= bb.size
	b.live -= bb.req
	b.release(addr, bb.size)
	return nil
}

func (b *Buddy) TotalBytes() uintptr { return b.total }
func (b *Buddy) UsedBytes() uintptr  { return b.live }
func (b *Buddy) AvailBytes() uintptr { return b.total - b.inUse }
