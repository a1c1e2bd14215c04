package virtqueue

import (
	"fmt"

	"github.com/rcrowley/go-metrics"
)

// queueMetrics counts the per-queue events that matter when debugging ring
// throughput: how often chains move in each direction, how often the kick
// was suppressed and how often the queue pushed back.
type queueMetrics struct {
	submitted       metrics.Counter
	reclaimed       metrics.Counter
	kicks           metrics.Counter
	kicksSuppressed metrics.Counter
	queueFull       metrics.Counter
	deviceFaults    metrics.Counter
}

func newQueueMetrics(queueIndex uint16) *queueMetrics {
	gen := func(name string) metrics.Counter {
		return metrics.GetOrRegisterCounter(fmt.Sprintf("vring.queue.%d.%s", queueIndex, name), nil)
	}
	return &queueMetrics{
		submitted:       gen("chains_submitted"),
		reclaimed:       gen("chains_reclaimed"),
		kicks:           gen("kicks"),
		kicksSuppressed: gen("kicks_suppressed"),
		queueFull:       gen("queue_full"),
		deviceFaults:    gen("device_faults"),
	}
}
