package netdev

import (
	"unsafe"

	"github.com/virtforge/vring/guestmem"
)

// bufferPool carves one contiguous arena into fixed-size packet buffers.
// Buffers not on the free list are owned by the device until the chain that
// references them is reclaimed.
type bufferPool struct {
	arena []byte
	// base is the guest-physical address of the first arena byte.
	base uint64
	// size is the per-buffer size in bytes.
	size int
	free []int
}

func newBufferPool(allocator guestmem.Allocator, translator guestmem.Translator, count, size int) (*bufferPool, error) {
	arena, err := allocator.Allocate(count * size)
	if err != nil {
		return nil, err
	}

	p := &bufferPool{
		arena: arena,
		base:  translator.PhysicalAddress(uintptr(unsafe.Pointer(&arena[0]))),
		size:  size,
		free:  make([]int, 0, count),
	}
	for i := range count {
		p.free = append(p.free, i)
	}
	return p, nil
}

// acquire takes one buffer off the free list.
func (p *bufferPool) acquire() (int, bool) {
	if len(p.free) == 0 {
		return 0, false
	}
	index := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return index, true
}

// release returns one buffer to the free list.
func (p *bufferPool) release(index int) {
	p.free = append(p.free, index)
}

// buffer returns the memory of the buffer with the given index.
func (p *bufferPool) buffer(index int) []byte {
	return p.arena[index*p.size : (index+1)*p.size]
}

// address returns the guest-physical address of the buffer with the given
// index.
func (p *bufferPool) address(index int) uint64 {
	return p.base + uint64(index*p.size)
}

func (p *bufferPool) close(allocator guestmem.Allocator) error {
	if p.arena == nil {
		return nil
	}
	if err := allocator.Release(p.arena); err != nil {
		return err
	}
	p.arena = nil
	return nil
}
