package virtqueue

import (
	"errors"
	"fmt"
)

// maxQueueSize is the largest power of 2 that fits into a 16-bit integer.
// 2 * 32768 would be 65536 which no longer fits.
const maxQueueSize = 32768

// ErrQueueSizeInvalid is returned when a queue size is invalid.
var ErrQueueSizeInvalid = errors.New("queue size is invalid")

// ErrAlignmentInvalid is returned when a queue alignment is invalid.
var ErrAlignmentInvalid = errors.New("queue alignment is invalid")

// CheckQueueSize checks if the given value would be a valid size for a
// virtqueue and returns an [ErrQueueSizeInvalid], if not.
func CheckQueueSize(queueSize int) error {
	if queueSize <= 0 {
		return fmt.Errorf("%w: %d is too small", ErrQueueSizeInvalid, queueSize)
	}

	// The queue size must always be a power of 2.
	// This ensures that ring indexes wrap correctly when the 16-bit integers
	// overflow.
	if queueSize&(queueSize-1) != 0 {
		return fmt.Errorf("%w: %d is not a power of 2", ErrQueueSizeInvalid, queueSize)
	}

	if queueSize > maxQueueSize {
		return fmt.Errorf("%w: %d is larger than the maximum possible queue size %d",
			ErrQueueSizeInvalid, queueSize, maxQueueSize)
	}

	return nil
}

// CheckAlignment checks if the given value would be a valid used ring
// alignment for a virtqueue and returns an [ErrAlignmentInvalid], if not.
func CheckAlignment(align int) error {
	if align <= 0 || align&(align-1) != 0 {
		return fmt.Errorf("%w: %d is not a power of 2", ErrAlignmentInvalid, align)
	}
	if align < usedRingAlignment {
		return fmt.Errorf("%w: %d is smaller than the used ring alignment %d",
			ErrAlignmentInvalid, align, usedRingAlignment)
	}
	return nil
}

// Size returns the number of contiguous bytes needed to hold all three queue
// structures for the given queue size: the descriptor table, immediately
// followed by the available ring, then padding up to align, then the used
// ring. This layout is the wire contract; the device independently computes
// the same offsets from the single base address.
func Size(queueSize, align int) int {
	return alignUp(descriptorTableSize(queueSize)+availableRingSize(queueSize), align) +
		usedRingSize(queueSize)
}

func alignUp(index, alignment int) int {
	remainder := index % alignment
	if remainder == 0 {
		return index
	}
	return index + alignment - remainder
}
