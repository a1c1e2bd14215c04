// Package vring assembles a guest-side virtio driver transport: it walks the
// device initialization handshake over an abstract bus transport, creates
// the virtqueues described by the config and exposes them for device-type
// specific drivers (network, block, console) to submit to.
package vring

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/virtforge/vring/config"
	"github.com/virtforge/vring/guestmem"
	"github.com/virtforge/vring/transport"
	"github.com/virtforge/vring/util"
	"github.com/virtforge/vring/virtio"
	"github.com/virtforge/vring/virtqueue"
)

// Build is overridden at link time.
var Build = "dev"

// Driver owns the queues of one virtio device.
type Driver struct {
	l        *logrus.Logger
	device   transport.Device
	features virtio.Feature
	queues   []*virtqueue.SplitQueue
}

// NewDriver initializes a driver for the given device: it performs the
// status handshake (ACKNOWLEDGE, DRIVER, feature negotiation, FEATURES_OK,
// queue setup, DRIVER_OK) and creates the queues described by the config.
//
// Config keys: queues.count, queues.size, queues.align, logging.*, stats.*.
func NewDriver(l *logrus.Logger, c *config.C, device transport.Device) (*Driver, error) {
	if err := configLogger(l, c); err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}
	c.RegisterReloadCallback(func(c *config.C) {
		if err := configLogger(l, c); err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	if err := startStats(l, c, Build); err != nil {
		return nil, util.NewContextualError("Failed to start stats emission", nil, err)
	}

	queueCount := c.GetInt("queues.count", 1)
	queueSize := c.GetInt("queues.size", 256)
	align := c.GetInt("queues.align", os.Getpagesize())
	if queueCount < 1 {
		return nil, util.NewContextualError("queues.count must be at least 1", m{"count": queueCount}, nil)
	}

	d := &Driver{
		l:      l,
		device: device,
	}

	// Leave the device in the failed state when initialization aborts
	// halfway, so it does not sit around half-configured.
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
			_ = device.SetStatus(virtio.DeviceStatusFailed)
		}
	}()

	status := virtio.DeviceStatusAcknowledge
	if err := device.SetStatus(status); err != nil {
		return nil, fmt.Errorf("acknowledge device: %w", err)
	}
	status |= virtio.DeviceStatusDriver
	if err := device.SetStatus(status); err != nil {
		return nil, fmt.Errorf("set driver status: %w", err)
	}

	proposed := virtio.FeatureVersion1 | virtio.FeatureRingEventIndex
	features, err := device.Negotiate(proposed)
	if err != nil {
		return nil, fmt.Errorf("negotiate features: %w", err)
	}
	d.features = features

	status |= virtio.DeviceStatusFeaturesOK
	if err = device.SetStatus(status); err != nil {
		return nil, fmt.Errorf("set features ok status: %w", err)
	}
	// The device signals feature rejection by clearing FEATURES_OK.
	readback, err := device.Status()
	if err != nil {
		return nil, fmt.Errorf("read device status: %w", err)
	}
	if !readback.Has(virtio.DeviceStatusFeaturesOK) {
		return nil, util.NewContextualError("Device rejected the negotiated features",
			m{"proposed": proposed, "accepted": features}, nil)
	}

	for i := range queueCount {
		queue, err := virtqueue.NewSplitQueue(uint16(i), queueSize,
			virtqueue.WithAlignment(align),
			virtqueue.WithFeatures(features),
			virtqueue.WithNotifier(device),
		)
		if err != nil {
			return nil, fmt.Errorf("create queue %d: %w", i, err)
		}
		d.queues = append(d.queues, queue)

		if err = device.RegisterQueue(uint16(i), queueSize, queue.PhysicalAddress()); err != nil {
			return nil, fmt.Errorf("register queue %d: %w", i, err)
		}
	}

	status |= virtio.DeviceStatusDriverOK
	if err = device.SetStatus(status); err != nil {
		return nil, fmt.Errorf("set driver ok status: %w", err)
	}

	l.WithField("queues", queueCount).
		WithField("queueSize", queueSize).
		WithField("features", fmt.Sprintf("%#x", uint64(features))).
		Info("Virtio driver transport is ready")

	ok = true
	return d, nil
}

type m map[string]any

// Features returns the negotiated feature bits.
func (d *Driver) Features() virtio.Feature {
	return d.features
}

// QueueCount returns the number of queues the driver created.
func (d *Driver) QueueCount() int {
	return len(d.queues)
}

// Queue returns the queue with the given index.
func (d *Driver) Queue(i int) *virtqueue.SplitQueue {
	return d.queues[i]
}

// MemoryLayout describes the memory regions of all queues, for backends that
// need to map the queue memory.
func (d *Driver) MemoryLayout() guestmem.Layout {
	regions := make([]guestmem.Region, 0, len(d.queues))
	for _, queue := range d.queues {
		regions = append(regions, queue.MemoryRegion())
	}
	return guestmem.NewLayout(regions...)
}

// Close resets the device and releases the queue memory.
// The implementation will try to release as many resources as possible and
// collect potential errors before returning them.
func (d *Driver) Close() error {
	var errs []error

	// Reset the device first so it stops accessing the queue regions before
	// they are released.
	if d.device != nil {
		if err := d.device.SetStatus(0); err != nil {
			errs = append(errs, fmt.Errorf("reset device: %w", err))
		}
	}

	for i, queue := range d.queues {
		if queue == nil {
			continue
		}
		if err := queue.Close(); err == nil {
			d.queues[i] = nil
		} else {
			errs = append(errs, fmt.Errorf("close queue %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}
