// Package transport defines the bus-side contract the ring engine drives.
// The concrete bus (port I/O, MMIO, vhost ioctls) is not implemented here;
// this package only pins down the operations a driver needs from it and
// ships an eventfd-backed implementation for vhost-style deployments and
// tests.
package transport

import "github.com/virtforge/vring/virtio"

// Device is one virtio device as seen through its bus transport.
//
// NotifyQueue is the only operation on the submission hot path; everything
// else is initialization-time configuration.
type Device interface {
	// Negotiate offers the driver's feature bits and returns the subset the
	// device accepted.
	Negotiate(proposed virtio.Feature) (virtio.Feature, error)

	// Status reads the device status register.
	Status() (virtio.DeviceStatus, error)

	// SetStatus writes the device status register. Writing 0 resets the
	// device.
	SetStatus(status virtio.DeviceStatus) error

	// RegisterQueue tells the device where the queue region of the given
	// queue lives in guest-physical memory and how many descriptors it
	// holds.
	RegisterQueue(queueIndex uint16, queueSize int, physicalAddress uint64) error

	// NotifyQueue signals the device that new descriptor chains are
	// available on the given queue. Fire-and-forget.
	NotifyQueue(queueIndex uint16) error
}
