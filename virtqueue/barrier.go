package virtqueue

import "sync/atomic"

var barrierWord atomic.Uint32

// memoryBarrier orders all memory accesses before the call against all
// accesses after it. The guest and the device share the queue memory without
// any common lock, so the two publish points (ring slot write before index
// increment, descriptor writes before ring slot write) and the read side of
// the used ring need explicit ordering. Go has no standalone fence; an
// atomic read-modify-write has the same effect.
func memoryBarrier() {
	barrierWord.Add(0)
}
