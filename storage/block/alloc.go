package block

import (
	"golang.org/x/sys/unix"

	"github.com/tansudb/tansu/storage"
)

// Allocator supplies the backing memory for blocks. Alloc failures surface
// as storage errors of kind OutOfMemory.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(data []byte) error

	// RoundSize adjusts a requested block size to what the allocator will
	// actually hand out.
	RoundSize(size int) int
}

type heapAllocator struct{}

// HeapAllocator allocates blocks on the Go heap.
func HeapAllocator() Allocator {
	return heapAllocator{}
}

func (heapAllocator) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (heapAllocator) Free(data []byte) error {
	return nil
}

func (heapAllocator) RoundSize(size int) int {
	return size
}

type mmapAllocator struct{}

// MmapAllocator allocates blocks with anonymous memory mappings, sized to
// the next power of two.
func MmapAllocator() Allocator {
	return mmapAllocator{}
}

func (mmapAllocator) Alloc(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, storage.NewError(storage.OutOfMemory, "block: mmap of %d bytes failed: %s",
			size, err)
	}
	return data, nil
}

func (mmapAllocator) Free(data []byte) error {
	return unix.Munmap(data)
}

func (mmapAllocator) RoundSize(size int) int {
	return NextHigherPowerOfTwo(size)
}
