package virtqueue

// needEvent decides whether the far side needs a signal after the producer
// moved its ring index from oldIdx to newIdx, given the threshold eventIdx
// the far side last communicated. When the consumer is actively polling, its
// event index trails behind and no signal is needed; a signal is only due
// when the update range crossed the threshold.
//
// All three counters are monotonic 16-bit values and the comparison must be
// done with modular 16-bit subtraction, never a plain less-than: near a
// wraparound the wider difference would be wrong. Xen has similar logic for
// notification hold-off in its ring buffers, with req_event and req_prod
// corresponding to eventIdx+1 and newIdx.
func needEvent(eventIdx, newIdx, oldIdx uint16) bool {
	return newIdx-eventIdx-1 < newIdx-oldIdx
}
