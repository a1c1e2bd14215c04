package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtforge/vring/virtio"
)

func TestEventFDDevice_Negotiate(t *testing.T) {
	d := NewEventFDDevice(virtio.FeatureVersion1 | virtio.FeatureRingEventIndex)
	t.Cleanup(func() {
		assert.NoError(t, d.Close())
	})

	accepted, err := d.Negotiate(virtio.FeatureVersion1 | virtio.FeatureRingIndirectDescriptors)
	require.NoError(t, err)
	assert.Equal(t, virtio.FeatureVersion1, accepted)
}

func TestEventFDDevice_Status(t *testing.T) {
	d := NewEventFDDevice(virtio.FeatureVersion1)
	t.Cleanup(func() {
		assert.NoError(t, d.Close())
	})

	status, err := d.Status()
	require.NoError(t, err)
	assert.EqualValues(t, 0, status)

	require.NoError(t, d.SetStatus(virtio.DeviceStatusAcknowledge|virtio.DeviceStatusDriver))
	status, err = d.Status()
	require.NoError(t, err)
	assert.True(t, status.Has(virtio.DeviceStatusDriver))
}

func TestEventFDDevice_RegisterAndNotify(t *testing.T) {
	d := NewEventFDDevice(virtio.FeatureVersion1)
	t.Cleanup(func() {
		assert.NoError(t, d.Close())
	})

	// Notification for an unknown queue must be rejected.
	assert.ErrorIs(t, d.NotifyQueue(0), ErrQueueNotRegistered)

	require.NoError(t, d.RegisterQueue(0, 256, 0x10000))

	addr, err := d.QueueAddress(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0x10000, addr)

	fd, err := d.KickFD(0)
	require.NoError(t, err)
	assert.Greater(t, fd, 0)

	require.NoError(t, d.NotifyQueue(0))

	// Re-registration updates the region but keeps the kick eventfd.
	require.NoError(t, d.RegisterQueue(0, 256, 0x20000))
	addr, err = d.QueueAddress(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0x20000, addr)

	fd2, err := d.KickFD(0)
	require.NoError(t, err)
	assert.Equal(t, fd, fd2)
}
