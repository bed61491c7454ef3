package alloc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region is the fixed physical memory the allocator will own. The
// allocator never maps memory itself; whoever bootstraps the process
// maps a region once and hands base and size to Init.
type Region struct {
	Mem []byte
}

func MapRegion(size int) (*Region, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	return &Region{Mem: mem}, nil
}

func (r *Region) Base() uintptr { return uintptr(unsafe.Pointer(&r.Mem[0])) }
func (r *Region) Size() uintptr { return uintptr(len(r.Mem)) }

func (r *Region) Unmap() error {
	mem := r.Mem
	r.Mem = nil
	return unix.Munmap(mem)
}
