// Package guestmem provides the memory services the ring engine consumes:
// allocation of the shared queue region and translation of driver virtual
// addresses into the guest-physical addresses the device uses for DMA.
package guestmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Allocator hands out the backing memory for queue structures. Returned
// regions are zeroed and page-aligned; both properties are part of the
// contract, since the region is handed to the device as-is.
type Allocator interface {
	Allocate(size int) ([]byte, error)
	Release(mem []byte) error
}

// Translator resolves the guest-physical address for memory that was handed
// out by the accompanying [Allocator]. The device interprets all ring and
// buffer addresses in this address space.
type Translator interface {
	PhysicalAddress(p uintptr) uint64
}

// MmapAllocator allocates anonymous memory pages directly from the kernel.
// Keeping the queue region out of the Go heap means the garbage collector
// will never move or reclaim structures the device is still working with.
type MmapAllocator struct{}

func (MmapAllocator) Allocate(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("allocate %d bytes of queue memory: %w", size, err)
	}
	return mem, nil
}

func (MmapAllocator) Release(mem []byte) error {
	if mem == nil {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("release queue memory: %w", err)
	}
	return nil
}

// IdentityTranslator is the [Translator] for deployments without address
// virtualization, where the device accesses the driver's own address space.
// The guest-physical address is then the same as the virtual one.
type IdentityTranslator struct{}

func (IdentityTranslator) PhysicalAddress(p uintptr) uint64 {
	return uint64(p)
}
