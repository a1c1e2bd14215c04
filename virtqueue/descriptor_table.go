package virtqueue

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/virtforge/vring/sglist"
)

var (
	// ErrDescriptorChainEmpty is returned when a descriptor chain would
	// contain no buffers, which is not allowed.
	ErrDescriptorChainEmpty = errors.New("empty descriptor chains are not allowed")

	// ErrNotEnoughFreeDescriptors is returned when the free descriptors are
	// exhausted, meaning that the queue is full. This is a backpressure
	// signal: the caller should reclaim completions and retry.
	ErrNotEnoughFreeDescriptors = errors.New("not enough free descriptors, queue is full")

	// ErrInvalidDescriptorChain is returned when a descriptor chain is not
	// valid for a given operation.
	ErrInvalidDescriptorChain = errors.New("invalid descriptor chain")
)

// noFreeHead is used to mark when all descriptors are in use and we have no
// free list. This value is impossible to occur as an index naturally, because
// it exceeds the maximum queue size.
const noFreeHead = uint16(math.MaxUint16)

// descriptorTableSize is the number of bytes needed to store a
// [DescriptorTable] with the given queue size in memory.
func descriptorTableSize(queueSize int) int {
	return descriptorSize * queueSize
}

// DescriptorTable holds the [Descriptor]s of one queue, addressed via their
// slot index. The descriptor array overlays shared memory that the device
// reads; everything else in this struct is driver-private bookkeeping.
//
// The free list is an intrusive singly linked list over the unused slots,
// kept in a separate array rather than threaded through the shared
// descriptors: while a chain is in flight its next fields belong to the
// device, so the two lifetimes must never share storage.
type DescriptorTable struct {
	descriptors []Descriptor

	// freeNext[i] is the slot following i in the free list, or noFreeHead
	// when i is the tail. Only meaningful for slots that are currently free.
	freeNext []uint16
	// freeHead is the first free slot, or noFreeHead when all slots are in
	// use.
	freeHead uint16
	// freeNum tracks the number of slots which are currently not in use.
	freeNum uint16

	// cookies holds the caller-supplied tag for every chain head that is
	// currently owned by the device. It is a side table so that the shared
	// ring regions stay byte-exact to the wire format.
	cookies []any
	// pending marks the slots that are in-flight chain heads. This is what
	// detects a device returning a bogus or already-reclaimed head.
	pending []bool
}

// newDescriptorTable creates a descriptor table that uses the given
// underlying memory. The length of the memory slice must match the size
// needed for the descriptor table (see [descriptorTableSize]) for the given
// queue size.
//
// Before this descriptor table can be used, [DescriptorTable.initialize]
// must be called.
func newDescriptorTable(queueSize int, mem []byte) *DescriptorTable {
	dtSize := descriptorTableSize(queueSize)
	if len(mem) != dtSize {
		panic(fmt.Sprintf("memory size (%v) does not match required size "+
			"for descriptor table: %v", len(mem), dtSize))
	}

	return &DescriptorTable{
		descriptors: unsafe.Slice((*Descriptor)(unsafe.Pointer(&mem[0])), queueSize),
		freeNext:    make([]uint16, queueSize),
		// We have no free descriptors until initialize was called.
		freeHead: noFreeHead,
		freeNum:  0,
		cookies:  make([]any, queueSize),
		pending:  make([]bool, queueSize),
	}
}

// Address returns the pointer to the beginning of the descriptor table in
// memory. Do not modify the memory directly to not interfere with this
// implementation.
func (dt *DescriptorTable) Address() uintptr {
	if dt.descriptors == nil {
		panic("descriptor table is not initialized")
	}
	return uintptr(unsafe.Pointer(&dt.descriptors[0]))
}

// FreeDescriptors returns the number of descriptor slots that are currently
// unused. A chain of length n can be submitted iff n <= FreeDescriptors().
func (dt *DescriptorTable) FreeDescriptors() uint16 {
	return dt.freeNum
}

// initialize links all descriptor slots into the free list. The shared
// descriptor memory itself is left zeroed; the device must not look at it
// before a chain was published.
func (dt *DescriptorTable) initialize() {
	num := len(dt.descriptors)
	for i := range num - 1 {
		dt.freeNext[i] = uint16(i + 1)
	}
	dt.freeNext[num-1] = noFreeHead
	dt.freeHead = 0
	dt.freeNum = uint16(num)
}

// popFree takes one slot off the free list. The caller must have checked
// that the list is not empty.
func (dt *DescriptorTable) popFree() uint16 {
	slot := dt.freeHead
	if slot == noFreeHead {
		panic("free list is empty but a free slot count was validated")
	}
	dt.freeHead = dt.freeNext[slot]
	dt.freeNext[slot] = noFreeHead
	dt.freeNum--
	return slot
}

// pushFree returns one slot to the front of the free list.
func (dt *DescriptorTable) pushFree(slot uint16) {
	dt.freeNext[slot] = dt.freeHead
	dt.freeHead = slot
	dt.freeNum++
}

// createDescriptorChain allocates one descriptor slot per segment and links
// them into a chain: all device-readable segments first (the leading numOut
// segments), then the device-writable ones, in the order given. The cookie
// is recorded against the head slot and handed back on reclamation.
//
// The chain is only written into the descriptor table here. It becomes
// visible to the device when its head is published via the available ring.
func (dt *DescriptorTable) createDescriptorChain(segments []sglist.Segment, numOut int, cookie any) (uint16, error) {
	if len(segments) == 0 {
		return 0, ErrDescriptorChainEmpty
	}
	if len(segments) > int(dt.freeNum) {
		return 0, ErrNotEnoughFreeDescriptors
	}

	head := noFreeHead
	prev := noFreeHead
	for i, segment := range segments {
		slot := dt.popFree()

		desc := &dt.descriptors[slot]
		desc.address = segment.Address
		desc.length = segment.Length
		desc.next = 0
		if i < numOut {
			desc.flags = 0
		} else {
			desc.flags = descriptorFlagWritable
		}

		if prev == noFreeHead {
			head = slot
		} else {
			prevDesc := &dt.descriptors[prev]
			prevDesc.flags |= descriptorFlagHasNext
			prevDesc.next = slot
		}
		prev = slot
	}

	dt.cookies[head] = cookie
	dt.pending[head] = true

	return head, nil
}

// chainSegments returns the device-readable (out) and device-writable (in)
// segments of the in-flight descriptor chain that starts with the given head
// index, in chain order.
func (dt *DescriptorTable) chainSegments(head uint16) (out, in []sglist.Segment, err error) {
	slots, err := dt.walkChain(head)
	if err != nil {
		return nil, nil, err
	}

	for _, slot := range slots {
		desc := &dt.descriptors[slot]
		segment := sglist.Segment{Address: desc.address, Length: desc.length}
		if desc.flags&descriptorFlagWritable == 0 {
			out = append(out, segment)
		} else {
			in = append(in, segment)
		}
	}

	return out, in, nil
}

// freeDescriptorChain returns all slots of the chain starting at the given
// head to the free list and hands back the cookie that was recorded at
// submission time, along with the chain length.
//
// The head must be one the device currently owns. A head that is out of
// range, not an in-flight chain head, or part of a malformed chain is a
// protocol violation by the device; nothing is freed in that case, because
// continuing would corrupt the free list.
func (dt *DescriptorTable) freeDescriptorChain(head uint16) (cookie any, chainLen uint16, err error) {
	slots, err := dt.walkChain(head)
	if err != nil {
		return nil, 0, err
	}

	for _, slot := range slots {
		desc := &dt.descriptors[slot]
		desc.address = 0
		desc.length = 0
		desc.flags = 0
		desc.next = 0
		dt.pushFree(slot)
	}

	cookie = dt.cookies[head]
	dt.cookies[head] = nil
	dt.pending[head] = false

	return cookie, uint16(len(slots)), nil
}

// walkChain validates the chain starting at head and returns its slots in
// chain order. The iteration is limited to the queue size to avoid ending up
// in an endless loop when things go very wrong.
func (dt *DescriptorTable) walkChain(head uint16) ([]uint16, error) {
	if int(head) >= len(dt.descriptors) {
		return nil, fmt.Errorf("%w: head index %d out of range", ErrInvalidDescriptorChain, head)
	}
	if !dt.pending[head] {
		return nil, fmt.Errorf("%w: %d is not an in-flight chain head", ErrInvalidDescriptorChain, head)
	}

	slots := make([]uint16, 0, 4)
	next := head
	for range dt.descriptors {
		slots = append(slots, next)

		desc := &dt.descriptors[next]
		if desc.flags&descriptorFlagHasNext == 0 {
			return slots, nil
		}

		if int(desc.next) >= len(dt.descriptors) {
			return nil, fmt.Errorf("%w: next index %d out of range", ErrInvalidDescriptorChain, desc.next)
		}
		// Detect loops.
		if desc.next == head {
			return nil, fmt.Errorf("%w: contains a loop", ErrInvalidDescriptorChain)
		}
		next = desc.next
	}

	// A descriptor chain longer than the queue size but without loops back
	// to the head can still cycle through the middle of the table.
	return nil, fmt.Errorf("%w: longer than the queue size", ErrInvalidDescriptorChain)
}
