// Package netdev layers the virtio-net packet framing on top of a pair of
// split virtqueues. Every packet transported through a networking device
// queue is prefixed with a [virtio.NetHdr]; this package owns the packet
// buffers, frames outgoing packets and unframes incoming ones, leaving the
// ring mechanics to the virtqueue package.
package netdev

import (
	"errors"
	"fmt"

	"github.com/virtforge/vring/guestmem"
	"github.com/virtforge/vring/sglist"
	"github.com/virtforge/vring/virtio"
	"github.com/virtforge/vring/virtqueue"
)

// ErrPacketTooLarge is returned when a packet does not fit into a queue
// buffer together with its header.
var ErrPacketTooLarge = errors.New("packet does not fit into a queue buffer")

// Device is the driver side of a virtio networking device: a receive and a
// transmit queue plus the packet buffers that back them.
type Device struct {
	receiveQueue  *virtqueue.SplitQueue
	transmitQueue *virtqueue.SplitQueue

	// mergeRXBuffers is whether [virtio.FeatureNetMergeRXBuffers] was
	// negotiated, allowing the device to spread one packet over multiple
	// descriptor chains.
	mergeRXBuffers bool
	bufferSize     int

	allocator guestmem.Allocator
	rxBuffers *bufferPool
	txBuffers *bufferPool
}

// NewDevice sets up the buffers for the given queue pair and fully populates
// the receive queue with device-writable buffers the device can write new
// packets into. The queues stay owned by the caller; features must be the
// bits that were negotiated with the device.
//
// Remember to call [Device.Close] after use to release the packet buffers.
func NewDevice(receiveQueue, transmitQueue *virtqueue.SplitQueue, features virtio.Feature, options ...Option) (_ *Device, err error) {
	opts := optionDefaults()
	opts.apply(options)
	if err = opts.validate(); err != nil {
		return nil, err
	}

	dev := Device{
		receiveQueue:   receiveQueue,
		transmitQueue:  transmitQueue,
		mergeRXBuffers: features.Has(virtio.FeatureNetMergeRXBuffers),
		bufferSize:     opts.bufferSize,
		allocator:      opts.allocator,
	}

	// Clean up a partially initialized device when something fails.
	defer func() {
		if err != nil {
			_ = dev.Close()
		}
	}()

	dev.rxBuffers, err = newBufferPool(opts.allocator, opts.translator, receiveQueue.Size(), opts.bufferSize)
	if err != nil {
		return nil, fmt.Errorf("allocate receive buffers: %w", err)
	}
	dev.txBuffers, err = newBufferPool(opts.allocator, opts.translator, transmitQueue.Size(), opts.bufferSize)
	if err != nil {
		return nil, fmt.Errorf("allocate transmit buffers: %w", err)
	}

	if err = dev.refillReceiveQueue(); err != nil {
		return nil, fmt.Errorf("refill receive queue: %w", err)
	}
	if err = dev.receiveQueue.KickIfNeeded(); err != nil {
		return nil, fmt.Errorf("kick receive queue: %w", err)
	}

	return &dev, nil
}

// refillReceiveQueue offers as many new device-writable buffers to the
// device as the queue can fit. The device will then use these to write
// received packets.
func (dev *Device) refillReceiveQueue() error {
	for {
		index, ok := dev.rxBuffers.acquire()
		if !ok {
			return nil
		}
		if err := dev.offerReceiveBuffer(index); err != nil {
			dev.rxBuffers.release(index)
			if errors.Is(err, virtqueue.ErrNotEnoughFreeDescriptors) {
				// Queue is full, job is done.
				return nil
			}
			return err
		}
	}
}

func (dev *Device) offerReceiveBuffer(index int) error {
	var list sglist.List
	list.AppendIn(dev.rxBuffers.address(index), uint32(dev.bufferSize))

	_, err := dev.receiveQueue.OfferDescriptorChain(&list, index)
	return err
}

// TransmitPacket frames the given packet with a virtio_net_hdr and publishes
// it on the transmit queue. The packet is copied into a driver-owned buffer,
// so the caller may reuse its slice immediately.
//
// When all transmit buffers are in flight,
// [virtqueue.ErrNotEnoughFreeDescriptors] is returned: reclaim happens
// automatically on the next call once the device caught up.
func (dev *Device) TransmitPacket(packet []byte) error {
	if len(packet)+virtio.NetHdrSize > dev.bufferSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(packet))
	}

	// Recycle the buffers of packets the device already consumed.
	if err := dev.reclaimTransmitted(); err != nil {
		return err
	}

	index, ok := dev.txBuffers.acquire()
	if !ok {
		return virtqueue.ErrNotEnoughFreeDescriptors
	}

	buf := dev.txBuffers.buffer(index)
	hdr := virtio.NetHdr{}
	if err := hdr.Encode(buf); err != nil {
		dev.txBuffers.release(index)
		return fmt.Errorf("encode packet header: %w", err)
	}
	copy(buf[virtio.NetHdrSize:], packet)

	var list sglist.List
	if err := list.AppendOut(dev.txBuffers.address(index), uint32(virtio.NetHdrSize+len(packet))); err != nil {
		dev.txBuffers.release(index)
		return err
	}
	if _, err := dev.transmitQueue.OfferDescriptorChain(&list, index); err != nil {
		dev.txBuffers.release(index)
		return fmt.Errorf("offer descriptor chain: %w", err)
	}

	return dev.transmitQueue.KickIfNeeded()
}

func (dev *Device) reclaimTransmitted() error {
	completions, err := dev.transmitQueue.Reclaim()
	if err != nil {
		return fmt.Errorf("reclaim transmit queue: %w", err)
	}
	for _, completion := range completions {
		dev.txBuffers.release(completion.Cookie.(int))
	}
	return nil
}

// ReceivePackets drains all packets the device delivered since the last call
// and returns their payloads, stripped of the virtio_net_hdr. The consumed
// buffers are offered to the device again before returning.
func (dev *Device) ReceivePackets() ([][]byte, error) {
	completions, err := dev.receiveQueue.Reclaim()
	if err != nil {
		return nil, fmt.Errorf("reclaim receive queue: %w", err)
	}
	if len(completions) == 0 {
		return nil, nil
	}

	packets := make([][]byte, 0, len(completions))
	for _, completion := range completions {
		index := completion.Cookie.(int)
		packet, err := dev.unframeReceived(index, completion.Length)
		dev.rxBuffers.release(index)
		if err != nil {
			return packets, err
		}
		packets = append(packets, packet)
	}

	if err := dev.refillReceiveQueue(); err != nil {
		return packets, fmt.Errorf("refill receive queue: %w", err)
	}
	return packets, dev.receiveQueue.KickIfNeeded()
}

// unframeReceived validates the header of the received packet in the given
// buffer and returns a copy of its payload.
func (dev *Device) unframeReceived(index int, length uint32) ([]byte, error) {
	if length < virtio.NetHdrSize || int(length) > dev.bufferSize {
		return nil, fmt.Errorf("%w: used length %d does not fit a packet",
			virtqueue.ErrDeviceMisbehaved, length)
	}

	buf := dev.rxBuffers.buffer(index)
	var hdr virtio.NetHdr
	if err := hdr.Decode(buf); err != nil {
		return nil, err
	}

	// The device may only spread a packet over multiple descriptor chains
	// when merge-rx was negotiated, and must then say so in the header.
	// Multi-chain packets are not supported here.
	if dev.mergeRXBuffers && hdr.NumBuffers > 1 {
		return nil, fmt.Errorf("%w: packet spans %d descriptor chains",
			virtqueue.ErrDeviceMisbehaved, hdr.NumBuffers)
	}

	packet := make([]byte, length-virtio.NetHdrSize)
	copy(packet, buf[virtio.NetHdrSize:length])
	return packet, nil
}

// Close releases the packet buffer arenas. The queues belong to the caller
// and are not closed; the device must no longer write into the buffers.
// The implementation will try to release as many resources as possible and
// collect potential errors before returning them.
func (dev *Device) Close() error {
	var errs []error

	if dev.rxBuffers != nil {
		if err := dev.rxBuffers.close(dev.allocator); err == nil {
			dev.rxBuffers = nil
		} else {
			errs = append(errs, fmt.Errorf("release receive buffers: %w", err))
		}
	}
	if dev.txBuffers != nil {
		if err := dev.txBuffers.close(dev.allocator); err == nil {
			dev.txBuffers = nil
		} else {
			errs = append(errs, fmt.Errorf("release transmit buffers: %w", err))
		}
	}

	return errors.Join(errs...)
}
