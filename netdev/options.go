package netdev

import (
	"fmt"
	"os"

	"github.com/virtforge/vring/guestmem"
	"github.com/virtforge/vring/virtio"
)

type optionValues struct {
	bufferSize int
	allocator  guestmem.Allocator
	translator guestmem.Translator
}

func (o *optionValues) apply(options []Option) {
	for _, option := range options {
		option(o)
	}
}

func (o *optionValues) validate() error {
	if o.bufferSize <= virtio.NetHdrSize {
		return fmt.Errorf("buffer size %d cannot fit the packet header", o.bufferSize)
	}
	return nil
}

func optionDefaults() optionValues {
	return optionValues{
		// A page holds the header plus a standard-MTU packet with room to
		// spare.
		bufferSize: os.Getpagesize(),
		allocator:  guestmem.MmapAllocator{},
		translator: guestmem.IdentityTranslator{},
	}
}

// Option can be passed to [NewDevice] to influence device creation.
type Option func(*optionValues)

// WithBufferSize returns an [Option] that sets the size of each packet
// buffer, including the [virtio.NetHdrSize] bytes of the header. It bounds
// the maximum packet size; the default is the system page size.
func WithBufferSize(size int) Option {
	return func(o *optionValues) { o.bufferSize = size }
}

// WithAllocator returns an [Option] that sets the allocator providing the
// packet buffer arenas. The default allocates anonymous pages from the
// kernel.
func WithAllocator(allocator guestmem.Allocator) Option {
	return func(o *optionValues) { o.allocator = allocator }
}

// WithTranslator returns an [Option] that sets the service translating
// buffer addresses into the guest-physical address space of the device. The
// default is the identity translation used when no virtualization is in
// play.
func WithTranslator(translator guestmem.Translator) Option {
	return func(o *optionValues) { o.translator = translator }
}
