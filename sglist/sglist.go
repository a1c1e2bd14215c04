// Package sglist provides the scatter/gather list type used to describe one
// logical I/O request as an ordered sequence of guest-physical memory
// segments. A list is partitioned: device-readable ("out") segments always
// come before device-writable ("in") segments, as required by the virtio
// descriptor chain layout.
package sglist

import "errors"

// ErrSegmentOrder is returned when a device-readable segment would be added
// after a device-writable one. The device expects all readable segments at
// the front of a chain.
var ErrSegmentOrder = errors.New("device-readable segments must come before device-writable segments")

// Segment describes one continuous piece of guest-physical memory.
type Segment struct {
	// Address is the guest-physical address of the first byte.
	Address uint64
	// Length is the number of bytes stored at Address.
	Length uint32
}

// List is an ordered scatter/gather list. The zero value is an empty list
// ready for use.
type List struct {
	segments []Segment
	out      int
}

// AppendOut adds a device-readable segment. It must not be called once a
// device-writable segment was added.
func (l *List) AppendOut(address uint64, length uint32) error {
	if l.out != len(l.segments) {
		return ErrSegmentOrder
	}
	l.segments = append(l.segments, Segment{Address: address, Length: length})
	l.out++
	return nil
}

// AppendIn adds a device-writable segment.
func (l *List) AppendIn(address uint64, length uint32) {
	l.segments = append(l.segments, Segment{Address: address, Length: length})
}

// Segments returns the segments in order, all device-readable ones first.
// The returned slice shares memory with the list.
func (l *List) Segments() []Segment {
	return l.segments
}

// Out returns the number of device-readable segments.
func (l *List) Out() int {
	return l.out
}

// In returns the number of device-writable segments.
func (l *List) In() int {
	return len(l.segments) - l.out
}

// Len returns the total number of segments.
func (l *List) Len() int {
	return len(l.segments)
}

// Reset empties the list while keeping the backing array for reuse.
func (l *List) Reset() {
	l.segments = l.segments[:0]
	l.out = 0
}
