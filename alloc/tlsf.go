package alloc

import "math/bits"

// TLSF is the default byte allocator: two-level segregated free lists
// with out-of-band block metadata. Free blocks are indexed by a
// first-level bitmap over power-of-two ranges and a second-level bitmap
// subdividing each range into 16 classes, so finding a fit is a couple
// of bit scans. Blocks carry physical-neighbor links for coalescing;
// used blocks sit in a map keyed by address so Dealloc can validate the
// caller's range.
type TLSF struct {
	flMap uint64
	slMap [flMax]uint16
	lists [flMax][slCount]*tlsfBlock
	busy  map[uintptr]*tlsfBlock
	tails map[uintptr]*tlsfBlock // range end -> last physical block
	total uintptr
	inUse uintptr // block bytes held by live allocations, slack included
	live  uintptr // exact requested bytes
}

const (
	grain   = 16
	slBits  = 4
	slCount = 1 << slBits
	flMax   = 48
)

type tlsfBlock struct {
	addr uintptr
	size uintptr
	req  uintptr
	free bool

	physPrev, physNext *tlsfBlock // address order within one range
	prev, next         *tlsfBlock // free list
}

func tlsfFit(size uintptr) (int, int) {
	fl := bits.Len64(uint64(size)) - 1
	if fl >= flMax {
		return flMax - 1, slCount - 1
	}
	sl := int(size>>uint(fl-slBits)) & (slCount - 1)
	return fl, sl
}

// tlsfCeil rounds size up to the next class boundary so that every block
// in the returned class is large enough.
func tlsfCeil(size uintptr) (int, int) {
	fl := bits.Len64(uint64(size)) - 1
	if fl >= flMax {
		return flMax - 1, slCount - 1
	}
	return tlsfFit(size + 1<<uint(fl-slBits) - 1)
}

func (t *TLSF) Init(addr, size uintptr) {
	t.busy = make(map[uintptr]*tlsfBlock)
	t.tails = make(map[uintptr]*tlsfBlock)
	t.addRange(addr, size)
}

func (t *TLSF) AddRegion(addr, size uintptr) error {
	if t.busy == nil {
		return ErrNotInitialized
	}
	t.addRange(addr, size)
	return nil
}

// addRange links a donated range that starts exactly where a previous
// one ended into that range's physical chain and coalesces with a free
// tail. Otherwise the range stays independent.
func (t *TLSF) addRange(addr, size uintptr) {
	a := alignUp(addr, grain)
	if a < addr || size < a-addr+grain {
		return
	}
	size = alignDown(size-(a-addr), grain)
	b := &tlsfBlock{addr: a, size: size}
	t.total += size
	if tail := t.tails[a]; tail != nil {
		delete(t.tails, a)
		tail.physNext = b
		b.physPrev = tail
	}
	t.tails[a+size] = b
	if p := b.physPrev; p != nil && p.free {
		t.remove(p)
		p.size += b.size
		p.physNext = nil
		t.tails[p.addr+p.size] = p
		b = p
	}
	t.insert(b)
}

func (t *TLSF) insert(b *tlsfBlock) {
	b.free = true
	fl, sl := tlsfFit(b.size)
	b.prev = nil
	b.next = t.lists[fl][sl]
	if b.next != nil {
		b.next.prev = b
	}
	t.lists[fl][sl] = b
	t.slMap[fl] |= 1 << uint(sl)
	t.flMap |= 1 << uint(fl)
}

func (t *TLSF) remove(b *tlsfBlock) {
	fl, sl := tlsfFit(b.size)
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		t.lists[fl][sl] = b.next
		if b.next == nil {
			t.slMap[fl] &^= 1 << uint(sl)
			if t.slMap[fl] == 0 {
				t.flMap &^= 1 << uint(fl)
			}
		}
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.prev, b.next = nil, nil
	b.free = false
}

func (t *TLSF) find(want uintptr) *tlsfBlock {
	fl, sl := tlsfCeil(want)
	m := t.slMap[fl] & (^uint16(0) << uint(sl))
	if m == 0 {
		fm := t.flMap >> uint(fl+1) << uint(fl+1)
		if fm == 0 {
			return nil
		}
		fl = bits.TrailingZeros64(fm)
		m = t.slMap[fl]
	}
	sl = bits.TrailingZeros16(m)
	for b := t.lists[fl][sl]; b != nil; b = b.next {
		if b.size >= want {
			return b
		}
	}
	return nil
}

// Alloc sizes blocks in multiples of grain but remembers the exact
// requested size, so UsedBytes matches the sum of live requests.
// Alignment above grain is bought by searching for align-grain extra
// bytes and splitting the front gap off as a free block; the gap is
// always 0 or a multiple of grain since every block address is.
func (t *TLSF) Alloc(size, align uintptr) (uintptr, error) {
	if align < grain {
		align = grain
	}
	need := alignUp(size, grain)
	want := need + align - grain
	if need < size || want < need {
		return 0, ErrNoMemory
	}
	b := t.find(want)
	if b == nil {
		return 0, ErrNoMemory
	}
	t.remove(b)
	addr := alignUp(b.addr, align)
	if gap := addr - b.addr; gap != 0 {
		front := &tlsfBlock{addr: b.addr, size: gap, physPrev: b.physPrev, physNext: b}
		if front.physPrev != nil {
			front.physPrev.physNext = front
		}
		b.physPrev = front
		b.addr = addr
		b.size -= gap
		t.insert(front)
	}
	// Split the back off when the remainder can stand alone, otherwise
	// the slack rides along inside the allocated block.
	if rem := b.size - need; rem >= grain {
		back := &tlsfBlock{addr: b.addr + need, size: rem, physPrev: b, physNext: b.physNext}
		if back.physNext != nil {
			back.physNext.physPrev = back
		}
		b.physNext = back
		b.size = need
		if t.tails[back.addr+back.size] == b {
			t.tails[back.addr+back.size] = back
		}
		t.insert(back)
	}
	b.req = size
	t.busy[b.addr] = b
	t.inUse += b.size
	t.live += size
	return b.addr, nil
}

// Dealloc always coalesces with both physical neighbors.
func (t *TLSF) Dealloc(addr, size uintptr) error {
	b := t.busy[addr]
	if b == nil || b.req != size {
		return ErrBadFree
	}
	delete(t.busy, addr)
	t.inUse -= b.size
	t.live -= b.req
	b.req = 0
	if n := b.physNext; n != nil && n.free {
		t.remove(n)
		end := n.addr + n.size
		b.size += n.size
		b.physNext = n.physNext
		if b.physNext != nil {
			b.physNext.physPrev = b
		}
		if t.tails[end] == n {
			t.tails[end] = b
		}
	}
	if p := b.physPrev; p != nil && p.free {
		t.remove(p)
		end := b.addr + b.size
		p.size += b.size
		p.physNext = b.physNext
		if p.physNext != nil {
			p.physNext.physPrev = p
		}
		if t.tails[end] == b {
			t.tails[end] = p
		}
		b = p
	}
	t.insert(b)
	return nil
}

func (t *TLSF) TotalBytes() uintptr { return t.total }
func (t *TLSF) UsedBytes() uintptr  { return t.live }
func (t *TLSF) AvailBytes() uintptr { return t.total - t.inUse }
