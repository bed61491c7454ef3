package alloc

import "github.com/carvealloc/carve/bitmap"

// PageAlloc manages a flat region in PageSize units with a word bitmap.
// It is not locked; the Heap serializes access.
type PageAlloc struct {
	base  uintptr
	pages int
	used  int
	words []uint64
}

func (p *PageAlloc) Init(base, size uintptr) error {
	if p.words != nil {
		return ErrInitialized
	}
	if size == 0 || base&(PageSize-1) != 0 || size&(PageSize-1) != 0 {
		return ErrInvalidLayout
	}
	p.base = base
	p.pages = int(size >> PageShift)
	p.words = bitmap.Words(p.pages)
	return nil
}

// AllocPages finds count contiguous free pages, first-fit, whose start
// index is a multiple of alignPages.
func (p *PageAlloc) AllocPages(count, alignPages int) (uintptr, error) {
	if p.words == nil {
		return 0, ErrNotInitialized
	}
	if count <= 0 || alignPages <= 0 || alignPages&(alignPages-1) != 0 {
		return 0, ErrInvalidLayout
	}
	i := bitmap.FindUnsetRun(p.words, p.pages, count, alignPages)
	if i < 0 {
		return 0, ErrOutOfMemory
	}
	bitmap.SetRun(p.words, i, count)
	p.used += count
	return p.base + uintptr(i)<<PageShift, nil
}

// FreePages rejects ranges that are not entirely used pages of this
// region instead of corrupting the bitmap.
func (p *PageAlloc) FreePages(addr uintptr, count int) error {
	if p.words == nil {
		return ErrNotInitialized
	}
	if count <= 0 || addr < p.base || addr&(PageSize-1) != 0 {
		return ErrBadFree
	}
	i := int((addr - p.base) >> PageShift)
	if i+count > p.pages || !bitmap.AllSet(p.words, i, count) {
		return ErrBadFree
	}
	bitmap.UnsetRun(p.words, i, count)
	p.used -= count
	return nil
}

func (p *PageAlloc) TotalPages() int { return p.pages }
func (p *PageAlloc) UsedPages() int  { return p.used }
func (p *PageAlloc) AvailPages() int { return p.pages - p.used }
