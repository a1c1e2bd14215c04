package transport

import (
	"errors"
	"fmt"

	"github.com/virtforge/vring/eventfd"
	"github.com/virtforge/vring/virtio"
)

// ErrQueueNotRegistered is returned when a queue is notified before it was
// registered with the device.
var ErrQueueNotRegistered = errors.New("queue is not registered with the device")

type registeredQueue struct {
	size            int
	physicalAddress uint64
	kick            eventfd.EventFD
}

// EventFDDevice is a [Device] whose queue notifications are eventfd kicks,
// the signaling model used by the kernel vhost backends. The status and
// feature registers are kept in memory; the process that consumes the queues
// obtains the kick file descriptors via [EventFDDevice.KickFD] and wires
// them to the actual backend.
type EventFDDevice struct {
	supported virtio.Feature
	status    virtio.DeviceStatus
	queues    map[uint16]*registeredQueue
}

// NewEventFDDevice creates an [EventFDDevice] that supports the given
// feature bits.
func NewEventFDDevice(supported virtio.Feature) *EventFDDevice {
	return &EventFDDevice{
		supported: supported,
		queues:    make(map[uint16]*registeredQueue),
	}
}

func (d *EventFDDevice) Negotiate(proposed virtio.Feature) (virtio.Feature, error) {
	return proposed & d.supported, nil
}

func (d *EventFDDevice) Status() (virtio.DeviceStatus, error) {
	return d.status, nil
}

func (d *EventFDDevice) SetStatus(status virtio.DeviceStatus) error {
	d.status = status
	return nil
}

func (d *EventFDDevice) RegisterQueue(queueIndex uint16, queueSize int, physicalAddress uint64) error {
	if q, ok := d.queues[queueIndex]; ok {
		// Re-registration replaces the region but keeps the kick eventfd.
		q.size = queueSize
		q.physicalAddress = physicalAddress
		return nil
	}

	kick, err := eventfd.New()
	if err != nil {
		return fmt.Errorf("create kick event file descriptor: %w", err)
	}
	d.queues[queueIndex] = &registeredQueue{
		size:            queueSize,
		physicalAddress: physicalAddress,
		kick:            kick,
	}
	return nil
}

func (d *EventFDDevice) NotifyQueue(queueIndex uint16) error {
	q, ok := d.queues[queueIndex]
	if !ok {
		return fmt.Errorf("%w: %d", ErrQueueNotRegistered, queueIndex)
	}
	return q.kick.Kick()
}

// KickFD returns the kick event file descriptor of the given queue, for
// wiring it to the backend that consumes the queue.
func (d *EventFDDevice) KickFD(queueIndex uint16) (int, error) {
	q, ok := d.queues[queueIndex]
	if !ok {
		return -1, fmt.Errorf("%w: %d", ErrQueueNotRegistered, queueIndex)
	}
	return q.kick.FD(), nil
}

// QueueAddress returns the registered guest-physical base address of the
// given queue.
func (d *EventFDDevice) QueueAddress(queueIndex uint16) (uint64, error) {
	q, ok := d.queues[queueIndex]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrQueueNotRegistered, queueIndex)
	}
	return q.physicalAddress, nil
}

// Close releases all kick event file descriptors. The implementation will
// try to release as many resources as possible and collect potential errors
// before returning them.
func (d *EventFDDevice) Close() error {
	var errs []error
	for queueIndex, q := range d.queues {
		if err := q.kick.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kick event file descriptor of queue %d: %w", queueIndex, err))
		}
		delete(d.queues, queueIndex)
	}
	return errors.Join(errs...)
}
