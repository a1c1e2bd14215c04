package virtqueue

import (
	"fmt"
	"unsafe"
)

// usedRingFlag is a flag that describes a [UsedRing].
type usedRingFlag uint16

const (
	// usedRingFlagNoNotify is used by the device to advise the driver to not
	// kick it when adding a buffer. It's unreliable, so it's simply an
	// optimization. The driver will still kick when it's out of buffers.
	// It is ignored when event-index suppression was negotiated.
	usedRingFlagNoNotify usedRingFlag = 1 << iota
)

// usedRingSize is the number of bytes needed to store a [UsedRing] with the
// given queue size in memory: flags, index, the ring itself and the trailing
// available event index.
func usedRingSize(queueSize int) int {
	return 6 + usedElementSize*queueSize
}

// usedRingAlignment is the minimum alignment of a [UsedRing] in memory, as
// required by the virtio spec.
const usedRingAlignment = 4

// UsedRing is where the device returns descriptor chains once it is done
// with them. Each ring entry is a [UsedElement]. It is only written to by the
// device and read by the driver.
//
// Because the size of the ring depends on the queue size, we cannot define a
// Go struct with a static size that maps to the memory of the ring. Instead,
// this struct only contains pointers to the corresponding memory areas.
type UsedRing struct {
	initialized bool

	// flags that describe this ring.
	flags *usedRingFlag
	// ringIndex indicates where the device would put the next entry into the
	// ring (modulo the queue size).
	ringIndex *uint16
	// ring contains the [UsedElement]s. It wraps around at queue size.
	ring []UsedElement
	// availableEvent tells the driver after which available ring index the
	// device wants a kick again. Only consulted by the driver when the
	// event-index feature was negotiated.
	availableEvent *uint16

	// lastIndex is the driver-private counter up to which all [UsedElement]s
	// were already reclaimed. It trails ringIndex.
	lastIndex uint16
}

// newUsedRing creates a used ring that uses the given underlying memory. The
// length of the memory slice must match the size needed for the ring (see
// [usedRingSize]) for the given queue size.
func newUsedRing(queueSize int, mem []byte) *UsedRing {
	ringSize := usedRingSize(queueSize)
	if len(mem) != ringSize {
		panic(fmt.Sprintf("memory size (%v) does not match required size "+
			"for used ring: %v", len(mem), ringSize))
	}

	r := UsedRing{
		initialized:    true,
		flags:          (*usedRingFlag)(unsafe.Pointer(&mem[0])),
		ringIndex:      (*uint16)(unsafe.Pointer(&mem[2])),
		ring:           unsafe.Slice((*UsedElement)(unsafe.Pointer(&mem[4])), queueSize),
		availableEvent: (*uint16)(unsafe.Pointer(&mem[ringSize-2])),
	}
	r.lastIndex = *r.ringIndex
	return &r
}

// Address returns the pointer to the beginning of the ring in memory.
// Do not modify the memory directly to not interfere with this implementation.
func (r *UsedRing) Address() uintptr {
	if !r.initialized {
		panic("used ring is not initialized")
	}
	return uintptr(unsafe.Pointer(r.flags))
}

// availableToTake returns the number of new [UsedElement]s the device has
// put into the ring that were not yet taken. Both counters are monotonic
// 16-bit values, so the wraparound-safe difference is their plain uint16
// subtraction.
func (r *UsedRing) availableToTake() int {
	return int(*r.ringIndex - r.lastIndex)
}

// take returns the oldest [UsedElement] that was not taken yet and advances
// the private counter. The caller must have checked that a new element
// exists via [UsedRing.availableToTake].
func (r *UsedRing) take() UsedElement {
	elem := r.ring[r.lastIndex%uint16(len(r.ring))]
	r.lastIndex++
	return elem
}

// Put writes a new element into the ring and publishes it by advancing the
// ring index. This is the device half of the ring; in-process backends and
// tests use it to complete chains the driver offered.
func (r *UsedRing) Put(elem UsedElement) {
	r.ring[*r.ringIndex%uint16(len(r.ring))] = elem

	// The driver must observe the filled ring slot before the advanced
	// index, otherwise it could read a stale element.
	memoryBarrier()

	*r.ringIndex += 1
}

// noNotify reports whether the device currently hints that it does not want
// to be kicked.
func (r *UsedRing) noNotify() bool {
	return *r.flags&usedRingFlagNoNotify != 0
}

// availEvent returns the available ring index threshold the device last
// communicated for kick suppression.
func (r *UsedRing) availEvent() uint16 {
	return *r.availableEvent
}
