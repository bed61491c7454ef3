package alloc

import (
	"math/bits"
	"sync"
	"unsafe"

	"github.com/modern-go/reflect2"
)

// MinHeapSize is the initial carve handed to the byte allocator during
// bootstrap, rounded to whole pages.
const MinHeapSize = 1 << 15

// Heap owns one page allocator and one byte allocator and is the only
// thing callers touch. One mutex guards both as a single critical
// section; growth runs entirely inside it, so there is no nested
// locking anywhere. Constructed empty, usable after Init, never torn
// down; pages donated to the byte allocator are never taken back.
type Heap struct {
	sync.Mutex
	Pages  PageAlloc
	Bytes  ByteAlloc
	inited bool
}

type Stats struct {
	TotalBytes uintptr
	UsedBytes  uintptr
	AvailBytes uintptr
	TotalPages int
	UsedPages  int
}

func (h *Heap) Init(base, size uintptr) error {
	return h.InitWith(&TLSF{}, base, size)
}

// InitWith bootstraps in two steps: the page allocator takes the whole
// region, then the byte allocator is seeded with an initial page run,
// because even its first bytes must come from page bookkeeping.
func (h *Heap) InitWith(ba ByteAlloc, base, size uintptr) error {
	h.Lock()
	defer h.Unlock()
	if h.inited {
		return ErrInitialized
	}
	if err := h.Pages.Init(base, size); err != nil {
		return err
	}
	boot := uintptr(MinHeapSize)
	if boot > size {
		boot = size
	}
	pages := int(alignUp(boot, PageSize) >> PageShift)
	addr, err := h.Pages.AllocPages(pages, 1)
	if err != nil {
		return err
	}
	ba.Init(addr, uintptr(pages)<<PageShift)
	h.Bytes = ba
	h.inited = true
	return nil
}

// Alloc delegates to the byte allocator and grows it on ErrNoMemory:
// max(current total, size) rounded up to a power of two and at least
// one page, then one retry. A failed retry is ErrOutOfMemory and leaves
// no partial state behind.
func (h *Heap) Alloc(size, align uintptr) (uintptr, error) {
	if align == 0 {
		align = 1
	}
	if size == 0 || align&(align-1) != 0 {
		return 0, ErrInvalidLayout
	}
	h.Lock()
	defer h.Unlock()
	if !h.inited {
		return 0, ErrNotInitialized
	}
	addr, err := h.Bytes.Alloc(size, align)
	if err == nil {
		return addr, nil
	}
	if err != ErrNoMemory {
		return 0, err
	}
	if err := h.grow(size); err != nil {
		return 0, err
	}
	addr, err = h.Bytes.Alloc(size, align)
	if err != nil {
		return 0, ErrOutOfMemory
	}
	return addr, nil
}

func (h *Heap) grow(size uintptr) error {
	want := h.Bytes.TotalBytes()
	if size > want {
		want = size
	}
	if want&(want-1) != 0 {
		want = 1 << uint(bits.Len64(uint64(want)))
	}
	if want < PageSize {
		want = PageSize
	}
	if want < size {
		return ErrOutOfMemory
	}
	addr, err := h.Pages.AllocPages(int(want>>PageShift), 1)
	if err != nil {
		return ErrOutOfMemory
	}
	return h.Bytes.AddRegion(addr, want)
}

func (h *Heap) Dealloc(addr, size, align uintptr) error {
	if align == 0 {
		align = 1
	}
	if size == 0 || align&(align-1) != 0 {
		return ErrInvalidLayout
	}
	h.Lock()
	defer h.Unlock()
	if !h.inited {
		return ErrNotInitialized
	}
	return h.Bytes.Dealloc(addr, size)
}

// Stats takes the lock, so a snapshot is consistent even while other
// goroutines allocate.
func (h *Heap) Stats() Stats {
	h.Lock()
	defer h.Unlock()
	if !h.inited {
		return Stats{}
	}
	return Stats{
		TotalBytes: h.Bytes.TotalBytes(),
		UsedBytes:  h.Bytes.UsedBytes(),
		AvailBytes: h.Bytes.AvailBytes(),
		TotalPages: h.Pages.TotalPages(),
		UsedPages:  h.Pages.UsedPages(),
	}
}

// Global is the process-wide heap instance. It is constructible before
// any memory region is known; the runtime calls Init exactly once.
var Global Heap

func Init(base, size uintptr) error { return Global.Init(base, size) }

func Alloc(size, align uintptr) (uintptr, error) { return Global.Alloc(size, align) }

func Dealloc(addr, size, align uintptr) error { return Global.Dealloc(addr, size, align) }

func HeapStats() Stats { return Global.Stats() }

// Get points ptr (a **T) at an allocated address.
func Get(addr uintptr, ptr interface{}) {
	*(*unsafe.Pointer)(reflect2.PtrOf(ptr)) = unsafe.Pointer(addr)
}
