package virtqueue

import (
	"errors"
	"fmt"
	"math"

	"github.com/virtforge/vring/guestmem"
	"github.com/virtforge/vring/sglist"
	"github.com/virtforge/vring/virtio"
)

// ErrDeviceMisbehaved is returned when the device violates the ring
// protocol, for example by publishing an out-of-range or already-reclaimed
// chain head. This is a trust-boundary fault: the queue must be torn down,
// continuing would corrupt the free list.
var ErrDeviceMisbehaved = errors.New("device violated the ring protocol")

// Notifier signals the device that new descriptor chains are available on a
// queue. It is implemented by the bus transport adapter; the signal is
// fire-and-forget.
type Notifier interface {
	NotifyQueue(queueIndex uint16) error
}

// Completion pairs a reclaimed request's cookie with the number of bytes the
// device wrote into the device-writable segments of its chain.
type Completion struct {
	// Cookie is the tag that was passed to [SplitQueue.OfferDescriptorChain]
	// when the request was submitted, returned verbatim.
	Cookie any
	// Length is the byte count reported by the device.
	Length uint32
}

// SplitQueue is a virtqueue that consists of several parts, where each part
// is writeable by either the driver or the device, but not both. All parts
// live in one contiguous memory region that the device interprets
// independently, so the layout is byte-exact per the virtio specification.
//
// A SplitQueue takes no internal lock. The guest/device boundary needs none
// thanks to the single-writer ring discipline; within the guest, callers
// must serialize [SplitQueue.OfferDescriptorChain] against itself and
// against [SplitQueue.Reclaim], since both touch the free list.
type SplitQueue struct {
	// index identifies this queue towards the transport.
	index uint16
	// size is the size of the queue.
	size int
	// align is the negotiated used ring alignment.
	align int
	// buf is the underlying memory used for the queue.
	buf []byte

	descriptorTable *DescriptorTable
	availableRing   *AvailableRing
	usedRing        *UsedRing

	allocator  guestmem.Allocator
	translator guestmem.Translator
	notifier   Notifier

	// eventIndex is whether [virtio.FeatureRingEventIndex] was negotiated,
	// switching kick suppression from the NO_NOTIFY flag to avail_event.
	eventIndex bool

	// kickedIdx is the available ring index as of the last notification
	// decision; the old_idx input of the suppression formula.
	kickedIdx uint16

	metrics *queueMetrics
}

// NewSplitQueue allocates a new [SplitQueue] in memory. The given queue size
// specifies the number of descriptors the queue can hold and must be a
// device-negotiated power of 2. This also affects the memory consumption.
func NewSplitQueue(queueIndex uint16, queueSize int, options ...Option) (_ *SplitQueue, err error) {
	if err = CheckQueueSize(queueSize); err != nil {
		return nil, err
	}
	opts := optionDefaults()
	opts.apply(options)
	if err = opts.validate(); err != nil {
		return nil, err
	}

	sq := SplitQueue{
		index:      queueIndex,
		size:       queueSize,
		align:      opts.align,
		allocator:  opts.allocator,
		translator: opts.translator,
		notifier:   opts.notifier,
		eventIndex: opts.features.Has(virtio.FeatureRingEventIndex),
	}

	// The three queue parts are carved out of one allocation, at offsets the
	// device derives from the single base address: the descriptor table at
	// the start, the available ring right behind it and the used ring at the
	// next align boundary. See [Size].
	descriptorTableStart := 0
	descriptorTableEnd := descriptorTableStart + descriptorTableSize(queueSize)
	availableRingStart := descriptorTableEnd
	availableRingEnd := availableRingStart + availableRingSize(queueSize)
	usedRingStart := alignUp(availableRingEnd, opts.align)
	usedRingEnd := usedRingStart + usedRingSize(queueSize)

	sq.buf, err = opts.allocator.Allocate(usedRingEnd)
	if err != nil {
		return nil, fmt.Errorf("allocate virtqueue buffer: %w", err)
	}
	clear(sq.buf)

	sq.descriptorTable = newDescriptorTable(queueSize, sq.buf[descriptorTableStart:descriptorTableEnd])
	sq.availableRing = newAvailableRing(queueSize, sq.buf[availableRingStart:availableRingEnd])
	sq.usedRing = newUsedRing(queueSize, sq.buf[usedRingStart:usedRingEnd])

	sq.descriptorTable.initialize()
	sq.kickedIdx = sq.availableRing.index()
	sq.metrics = newQueueMetrics(queueIndex)

	return &sq, nil
}

// Index returns the queue index used to identify this queue towards the
// device.
func (sq *SplitQueue) Index() uint16 {
	return sq.index
}

// Size returns the size of this queue, which is the number of descriptors
// this queue can hold.
func (sq *SplitQueue) Size() int {
	return sq.size
}

// FreeDescriptors returns the number of descriptor slots that are currently
// free for new chains.
func (sq *SplitQueue) FreeDescriptors() uint16 {
	return sq.descriptorTable.FreeDescriptors()
}

// DescriptorTable returns the [DescriptorTable] behind this queue.
func (sq *SplitQueue) DescriptorTable() *DescriptorTable {
	return sq.descriptorTable
}

// AvailableRing returns the [AvailableRing] behind this queue.
func (sq *SplitQueue) AvailableRing() *AvailableRing {
	return sq.availableRing
}

// UsedRing returns the [UsedRing] behind this queue.
func (sq *SplitQueue) UsedRing() *UsedRing {
	return sq.usedRing
}

// PhysicalAddress returns the guest-physical base address of the queue
// region, for device and hypervisor configuration.
func (sq *SplitQueue) PhysicalAddress() uint64 {
	return sq.translator.PhysicalAddress(sq.descriptorTable.Address())
}

// MemoryRegion describes the queue region for device configuration.
func (sq *SplitQueue) MemoryRegion() guestmem.Region {
	base := sq.descriptorTable.Address()
	return guestmem.Region{
		GuestPhysicalAddress: sq.translator.PhysicalAddress(base),
		Size:                 uint64(len(sq.buf)),
		UserspaceAddress:     base,
	}
}

// OfferDescriptorChain writes the given scatter/gather list into a fresh
// descriptor chain and publishes the chain head to the device via the
// available ring. The cookie is an opaque caller tag that will be handed
// back by [SplitQueue.Reclaim] when the device is done with the chain.
//
// When the queue does not have enough free descriptors to hold the chain, a
// [ErrNotEnoughFreeDescriptors] is returned. That is a recoverable
// backpressure signal: reclaim completions and retry.
//
// Publishing does not signal the device. Call [SplitQueue.KickIfNeeded]
// (or [SplitQueue.Kick] to bypass suppression) after one or more offers.
func (sq *SplitQueue) OfferDescriptorChain(list *sglist.List, cookie any) (uint16, error) {
	head, err := sq.descriptorTable.createDescriptorChain(list.Segments(), list.Out(), cookie)
	if err != nil {
		if errors.Is(err, ErrNotEnoughFreeDescriptors) {
			sq.metrics.queueFull.Inc(1)
			return 0, err
		}
		return 0, fmt.Errorf("create descriptor chain: %w", err)
	}

	// The device must never observe the chain head in the ring before the
	// descriptor contents are fully written.
	memoryBarrier()

	sq.availableRing.offer(head)
	sq.metrics.submitted.Inc(1)

	return head, nil
}

// Reclaim drains all descriptor chains the device has marked as used since
// the last call, returning their slots to the free list. It yields one
// [Completion] per chain in the order the device completed them, which is
// not necessarily submission order.
//
// Reclaim never blocks: with no new completions it returns an empty result.
// It is restartable; the next call resumes behind the last drained entry.
func (sq *SplitQueue) Reclaim() ([]Completion, error) {
	count := sq.usedRing.availableToTake()
	if count == 0 {
		return nil, nil
	}
	if count > sq.size {
		sq.metrics.deviceFaults.Inc(1)
		return nil, fmt.Errorf("%w: %d new used elements but the queue only holds %d",
			ErrDeviceMisbehaved, count, sq.size)
	}

	// Ring entries must not be read before the index that published them.
	memoryBarrier()

	completions := make([]Completion, 0, count)
	for range count {
		elem := sq.usedRing.take()

		if elem.DescriptorIndex > math.MaxUint16 {
			sq.metrics.deviceFaults.Inc(1)
			return completions, fmt.Errorf("%w: used element id %d exceeds the index range",
				ErrDeviceMisbehaved, elem.DescriptorIndex)
		}

		cookie, _, err := sq.descriptorTable.freeDescriptorChain(elem.Head())
		if err != nil {
			sq.metrics.deviceFaults.Inc(1)
			return completions, fmt.Errorf("%w: %w", ErrDeviceMisbehaved, err)
		}

		completions = append(completions, Completion{
			Cookie: cookie,
			Length: elem.Length,
		})
	}
	sq.metrics.reclaimed.Inc(int64(len(completions)))

	return completions, nil
}

// ShouldKick decides whether the device needs a signal for the chains
// published since the last notification decision. With the event-index
// feature the device communicates the available ring index it has already
// seen via avail_event and the decision is made with modular 16-bit
// arithmetic; otherwise the device's NO_NOTIFY flag hint is honored.
func (sq *SplitQueue) ShouldKick() bool {
	newIdx := sq.availableRing.index()
	oldIdx := sq.kickedIdx
	sq.kickedIdx = newIdx

	// The index update must be visible to the device before its suppression
	// state is read, otherwise both sides could go idle.
	memoryBarrier()

	if sq.eventIndex {
		return needEvent(sq.usedRing.availEvent(), newIdx, oldIdx)
	}
	return !sq.usedRing.noNotify()
}

// Kick signals the device unconditionally. Callers normally gate this behind
// [SplitQueue.ShouldKick] (or use [SplitQueue.KickIfNeeded]) to avoid
// redundant signals. In polled mode (no notifier configured) this is a
// no-op.
func (sq *SplitQueue) Kick() error {
	if sq.notifier == nil {
		return nil
	}
	sq.metrics.kicks.Inc(1)
	if err := sq.notifier.NotifyQueue(sq.index); err != nil {
		return fmt.Errorf("notify device: %w", err)
	}
	return nil
}

// KickIfNeeded signals the device only when the suppression algorithm says
// the device needs it.
func (sq *SplitQueue) KickIfNeeded() error {
	if !sq.ShouldKick() {
		sq.metrics.kicksSuppressed.Inc(1)
		return nil
	}
	return sq.Kick()
}

// DisableCallback hints the device that the driver does not want completion
// interrupts. The hint is best-effort, the device may still signal.
func (sq *SplitQueue) DisableCallback() {
	sq.availableRing.setNoInterrupt(true)
}

// EnableCallback clears the interrupt suppression hint and reports whether
// completions are already pending in the used ring. A completion may have
// landed while interrupts were disabled and would then never be signaled;
// callers must reclaim when this returns true instead of waiting for an
// interrupt.
func (sq *SplitQueue) EnableCallback() bool {
	sq.availableRing.setNoInterrupt(false)
	if sq.eventIndex {
		sq.availableRing.setUsedEvent(sq.usedRing.lastIndex)
	}

	// The cleared hint must be visible to the device before the used ring is
	// checked, otherwise a completion could slip between the two.
	memoryBarrier()

	return sq.usedRing.availableToTake() > 0
}

// Close releases the queue memory. The queue must not be used afterwards and
// the device must no longer access the region.
func (sq *SplitQueue) Close() error {
	if sq.buf != nil {
		if err := sq.allocator.Release(sq.buf); err != nil {
			return fmt.Errorf("release virtqueue buffer: %w", err)
		}
		sq.buf = nil
	}
	return nil
}
