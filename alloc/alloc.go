// Package alloc is a two-level dynamic allocator over a fixed memory
// region: a bitmap page allocator feeds page runs to a byte allocator,
// and a Heap ties both together with on-demand growth.
package alloc

import "errors"

const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

var (
	ErrNotInitialized = errors.New("allocator is not initialized")
	ErrInitialized    = errors.New("allocator is already initialized")
	ErrInvalidLayout  = errors.New("invalid layout")
	ErrNoMemory       = errors.New("byte allocator exhausted")
	ErrOutOfMemory    = errors.New("out of memory")
	ErrBadFree        = errors.New("freed range does not match a live allocation")
)

// ByteAlloc services arbitrary-size, arbitrary-alignment requests out of
// memory ranges donated to it. Implementations keep all bookkeeping
// outside the managed ranges and never touch the memory itself.
// Alloc fails with ErrNoMemory; the Heap turns that into growth.
type ByteAlloc interface {
	Init(addr, size uintptr)
	AddRegion(addr, size uintptr) error
	Alloc(size, align uintptr) (uintptr, error)
	Dealloc(addr, size uintptr) error
	TotalBytes() uintptr
	UsedBytes() uintptr
	AvailBytes() uintptr
}

// NewByteAlloc picks the byte allocator family. The choice is made once
// at startup and never changes at runtime. Returns nil for unknown kinds.
func NewByteAlloc(kind string) ByteAlloc {
	switch kind {
	case "", "tlsf":
		return &TLSF{}
	case "slab":
		return &Slab{}
	case "buddy":
		return &Buddy{}
	}
	return nil
}

func alignUp(v, a uintptr) uintptr {
	return (v + a - 1) &^ (a - 1)
}

func alignDown(v, a uintptr) uintptr {
	return v &^ (a - 1)
}
