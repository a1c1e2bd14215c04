package virtio

// DeviceStatus describes the state of the initialization handshake between
// the driver and the device. The driver sets bits as it progresses; the
// device sets DeviceStatusNeedsReset when it gives up.
//
// Source: https://docs.oasis-open.org/virtio/virtio/v1.2/csd01/virtio-v1.2-csd01.html#x1-110001
type DeviceStatus uint8

const (
	// DeviceStatusAcknowledge indicates that the guest has found the device.
	DeviceStatusAcknowledge DeviceStatus = 1

	// DeviceStatusDriver indicates that the guest knows how to drive the
	// device.
	DeviceStatusDriver DeviceStatus = 2

	// DeviceStatusDriverOK indicates that the driver is set up and ready to
	// drive the device.
	DeviceStatusDriverOK DeviceStatus = 4

	// DeviceStatusFeaturesOK indicates that feature negotiation is complete.
	DeviceStatusFeaturesOK DeviceStatus = 8

	// DeviceStatusNeedsReset indicates that the device has experienced an
	// error from which it can't recover.
	DeviceStatusNeedsReset DeviceStatus = 64

	// DeviceStatusFailed indicates that something went wrong in the guest and
	// it has given up on the device.
	DeviceStatusFailed DeviceStatus = 128
)

// Has reports whether all bits of other are set in s.
func (s DeviceStatus) Has(other DeviceStatus) bool {
	return s&other == other
}
