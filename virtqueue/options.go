package virtqueue

import (
	"os"

	"github.com/virtforge/vring/guestmem"
	"github.com/virtforge/vring/virtio"
)

type optionValues struct {
	align      int
	allocator  guestmem.Allocator
	translator guestmem.Translator
	notifier   Notifier
	features   virtio.Feature
}

func (o *optionValues) apply(options []Option) {
	for _, option := range options {
		option(o)
	}
}

func (o *optionValues) validate() error {
	return CheckAlignment(o.align)
}

func optionDefaults() optionValues {
	return optionValues{
		// The page-granular alignment mandated for the legacy PCI transport.
		align:      os.Getpagesize(),
		allocator:  guestmem.MmapAllocator{},
		translator: guestmem.IdentityTranslator{},
	}
}

// Option can be passed to [NewSplitQueue] to influence queue creation.
type Option func(*optionValues)

// WithAlignment returns an [Option] that sets the used ring alignment of the
// queue. It must be a power of 2 and is normally a transport-mandated
// page-granularity constant; the default is the system page size.
func WithAlignment(align int) Option {
	return func(o *optionValues) { o.align = align }
}

// WithAllocator returns an [Option] that sets the allocator providing the
// backing memory of the queue region. The default allocates anonymous pages
// from the kernel.
func WithAllocator(allocator guestmem.Allocator) Option {
	return func(o *optionValues) { o.allocator = allocator }
}

// WithTranslator returns an [Option] that sets the service translating queue
// addresses into the guest-physical address space of the device. The default
// is the identity translation used when no virtualization is in play.
func WithTranslator(translator guestmem.Translator) Option {
	return func(o *optionValues) { o.translator = translator }
}

// WithNotifier returns an [Option] that sets the transport adapter to signal
// when descriptor chains are published. Without a notifier the queue is in
// polled mode and [SplitQueue.Kick] is a no-op.
func WithNotifier(notifier Notifier) Option {
	return func(o *optionValues) { o.notifier = notifier }
}

// WithFeatures returns an [Option] that passes the negotiated device feature
// bits to the queue. The queue only consults the ring-related bits, most
// importantly [virtio.FeatureRingEventIndex].
func WithFeatures(features virtio.Feature) Option {
	return func(o *optionValues) { o.features = features }
}
