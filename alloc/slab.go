package alloc

import "math/bits"

// Slab serves requests up to slabMaxObj from power-of-two object
// classes. Each class carves page-sized slabs from the front of the
// donated ranges and recycles freed objects through a per-class LIFO
// list. Larger requests are cut from the back of the ranges, arceos
// early-allocator style, and reuse freed large blocks first-fit without
// coalescing. Best when the workload is many same-size objects.
type Slab struct {
	ranges []slabRange
	frees  [slabClassCount][]uintptr
	large  []slabLarge
	busy   map[uintptr]slabBusy
	total  uintptr
	inUse  uintptr
	live   uintptr
	waste  uintptr // carve alignment gaps, unreachable until process end
}

const (
	slabShift      = 4 // min class 16
	slabClassCount = 8 // 16..2048
	slabMaxObj     = 1 << (slabShift + slabClassCount - 1)
	slabCarve      = PageSize
)

type slabRange struct {
	lo, hi uintptr // yet-uncarved gap; lo grows, hi shrinks
}

type slabLarge struct {
	addr, size uintptr
}

type slabBusy struct {
	class int8 // -1 for large blocks
	size  uintptr
	req   uintptr
}

func slabClass(n uintptr) int {
	c := bits.Len64(uint64(n-1)) - slabShift
	if c < 0 {
		c = 0
	}
	return c
}

func (s *Slab) Init(addr, size uintptr) {
	s.busy = make(map[uintptr]slabBusy)
	s.addRange(addr, size)
}

func (s *Slab) AddRegion(addr, size uintptr) error {
	if s.busy == nil {
		return ErrNotInitialized
	}
	s.addRange(addr, size)
	return nil
}

// Donated ranges are kept independent; no coalescing across donations.
func (s *Slab) addRange(addr, size uintptr) {
	lo := alignUp(addr, grain)
	if lo < addr || size < lo-addr+grain {
		return
	}
	hi := alignDown(addr+size, grain)
	s.ranges = append(s.ranges, slabRange{lo: lo, hi: hi})
	s.total += hi - lo
}

func (s *Slab) Alloc(size, align uintptr) (uintptr, error) {
	if align == 0 {
		align = 1
	}
	n := size
	if align > n {
		n = align
	}
	if n > slabMaxObj {
		return s.allocLarge(size, align)
	}
	c := slabClass(n)
	csize := uintptr(1) << uint(c+slabShift)
	if len(s.frees[c]) == 0 {
		if err := s.carve(c, csize); err != nil {
			return 0, err
		}
	}
	l := s.frees[c]
	addr := l[len(l)-1]
	s.frees[c] = l[:len(l)-1]
	s.busy[addr] = slabBusy{class: int8(c), size: csize, req: size}
	s.inUse += csize
	s.live += size
	return addr, nil
}

// carve cuts one slab's worth of class-c objects from the first range
// with room. Objects are csize-aligned because slab starts are.
func (s *Slab) carve(c int, csize uintptr) error {
	for i := range s.ranges {
		r := &s.ranges[i]
		start := alignUp(r.lo, csize)
		if start < r.lo || start+csize > r.hi || start+csize < start {
			continue
		}
		end := start + slabCarve
		if end > r.hi {
			end = r.hi
		}
		end = start + alignDown(end-start, csize)
		s.waste += start - r.lo
		r.lo = end
		for a := start; a < end; a += csize {
			s.frees[c] = append(s.frees[c], a)
		}
		return nil
	}
	return ErrNoMemory
}

func (s *Slab) allocLarge(size, align uintptr) (uintptr, error) {
	want := alignUp(size, grain)
	if want < size {
		return 0, ErrNoMemory
	}
	for i, lb := range s.large {
		if lb.size >= want && lb.addr&(align-1) == 0 {
			s.large = append(s.large[:i], s.large[i+1:]...)
			s.busy[lb.addr] = slabBusy{class: -1, size: lb.size, req: size}
			s.inUse += lb.size
			s.live += size
			return lb.addr, nil
		}
	}
	for i := range s.ranges {
		r := &s.ranges[i]
		if r.hi-r.lo < want {
			continue
		}
		addr := alignDown(r.hi-want, align)
		if addr < r.lo {
			continue
		}
		s.waste += r.hi - (addr + want)
		r.hi = addr
		s.busy[addr] = slabBusy{class: -1, size: want, req: size}
		s.inUse += want
		s.live += size
		return addr, nil
	}
	return 0, ErrNoMemory
}

func (s *Slab) Dealloc(addr, size uintptr) error {
	b, ok := s.busy[addr]
	if !ok || b.req != size {
		return ErrBadFree
	}
	delete(s.busy, addr)
	s.inUse -= b.size
	s.live -= b.req
	if b.class >= 0 {
		s.frees[b.class] = append(s.frees[b.class], addr)
	} else {
		s.large = append(s.large, slabLarge{addr: addr, size: b.size})
	}
	return nil
}

func (s *Slab) TotalBytes() uintptr { return s.total }
func (s *Slab) UsedBytes() uintptr  { return s.live }
func (s *Slab) AvailBytes() uintptr { return s.total - s.inUse - s.waste }
