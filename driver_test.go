package vring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtforge/vring/config"
	"github.com/virtforge/vring/test"
	"github.com/virtforge/vring/virtio"
)

// memoryDevice is a transport.Device that keeps all registers in memory and
// records the driver's actions.
type memoryDevice struct {
	supported     virtio.Feature
	rejectFeature bool

	status        virtio.DeviceStatus
	statusWrites  []virtio.DeviceStatus
	registered    map[uint16]uint64
	notifications []uint16
}

func newMemoryDevice(supported virtio.Feature) *memoryDevice {
	return &memoryDevice{
		supported:  supported,
		registered: make(map[uint16]uint64),
	}
}

func (d *memoryDevice) Negotiate(proposed virtio.Feature) (virtio.Feature, error) {
	return proposed & d.supported, nil
}

func (d *memoryDevice) Status() (virtio.DeviceStatus, error) {
	if d.rejectFeature {
		return d.status &^ virtio.DeviceStatusFeaturesOK, nil
	}
	return d.status, nil
}

func (d *memoryDevice) SetStatus(status virtio.DeviceStatus) error {
	d.status = status
	d.statusWrites = append(d.statusWrites, status)
	return nil
}

func (d *memoryDevice) RegisterQueue(queueIndex uint16, queueSize int, physicalAddress uint64) error {
	d.registered[queueIndex] = physicalAddress
	return nil
}

func (d *memoryDevice) NotifyQueue(queueIndex uint16) error {
	d.notifications = append(d.notifications, queueIndex)
	return nil
}

func TestNewDriver(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("queues:\n  count: 2\n  size: 8\n"))

	device := newMemoryDevice(virtio.FeatureVersion1 | virtio.FeatureRingEventIndex)

	d, err := NewDriver(l, c, device)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, d.Close())
	})

	assert.Equal(t, 2, d.QueueCount())
	assert.Equal(t, virtio.FeatureVersion1|virtio.FeatureRingEventIndex, d.Features())

	// The full status walk must have happened in order.
	assert.Equal(t, []virtio.DeviceStatus{
		virtio.DeviceStatusAcknowledge,
		virtio.DeviceStatusAcknowledge | virtio.DeviceStatusDriver,
		virtio.DeviceStatusAcknowledge | virtio.DeviceStatusDriver | virtio.DeviceStatusFeaturesOK,
		virtio.DeviceStatusAcknowledge | virtio.DeviceStatusDriver | virtio.DeviceStatusFeaturesOK |
			virtio.DeviceStatusDriverOK,
	}, device.statusWrites)

	// Each queue was registered under its own base address.
	require.Len(t, device.registered, 2)
	assert.Equal(t, d.Queue(0).PhysicalAddress(), device.registered[0])
	assert.Equal(t, d.Queue(1).PhysicalAddress(), device.registered[1])
	assert.NotEqual(t, device.registered[0], device.registered[1])

	// Queues notify through the device transport.
	require.NoError(t, d.Queue(1).Kick())
	assert.Equal(t, []uint16{1}, device.notifications)

	layout := d.MemoryLayout()
	require.Len(t, layout, 2)
	assert.EqualValues(t, d.Queue(0).PhysicalAddress(), layout[0].GuestPhysicalAddress)
}

func TestNewDriver_FeatureRejection(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("queues:\n  size: 8\n"))

	device := newMemoryDevice(virtio.FeatureVersion1)
	device.rejectFeature = true

	_, err := NewDriver(l, c, device)
	require.Error(t, err)

	// The device must have been moved to the failed state.
	assert.True(t, device.status.Has(virtio.DeviceStatusFailed))
}

func TestNewDriver_InvalidQueueCount(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("queues:\n  count: 0\n"))

	device := newMemoryDevice(virtio.FeatureVersion1)
	_, err := NewDriver(l, c, device)
	require.Error(t, err)
}

func TestDriver_Close(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("queues:\n  size: 8\n"))

	device := newMemoryDevice(virtio.FeatureVersion1)

	d, err := NewDriver(l, c, device)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	// The device was reset before the queue memory was released.
	assert.EqualValues(t, 0, device.status)

	// Closing twice must be safe.
	require.NoError(t, d.Close())
}
