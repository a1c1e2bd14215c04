// Package virtqueue implements the driver side of a virtio split virtqueue
// as described in the specification:
// https://docs.oasis-open.org/virtio/virtio/v1.2/csd01/virtio-v1.2-csd01.html#x1-350007
// This package does not make assumptions about the device that consumes the
// queue. It allocates the queue structures in one shared memory region and
// provides the submit, reclaim and notification-control operations a device
// driver needs; signaling the device is delegated to a transport adapter.
package virtqueue
