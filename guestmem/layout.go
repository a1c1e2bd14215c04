package guestmem

// Region describes one continuous region of driver memory which is being
// made accessible to a device.
type Region struct {
	// GuestPhysicalAddress is the physical address of the region as the
	// device sees it. Without virtualization this is the same as
	// UserspaceAddress.
	GuestPhysicalAddress uint64
	// Size is the size of the region in bytes.
	Size uint64
	// UserspaceAddress is the virtual address of the region within the
	// driver.
	UserspaceAddress uintptr
}

// Layout is the list of [Region]s a device needs to know about to be able to
// resolve the ring and buffer addresses the driver publishes.
type Layout []Region

// NewLayout builds a [Layout] from the memory regions of all queues that
// will be registered with a device.
func NewLayout(regions ...Region) Layout {
	l := make(Layout, 0, len(regions))
	l = append(l, regions...)
	return l
}
