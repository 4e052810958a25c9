package runner

import "sync/atomic"

// Barrier releases once exactly target arrivals have been counted.
// Arrivals past the target are counted but never release it again.
type Barrier struct {
	target int64
	count  atomic.Int64
	done   chan struct{}
}

func NewBarrier(target int) *Barrier {
	b := &Barrier{target: int64(target), done: make(chan struct{})}
	if target <= 0 {
		close(b.done)
	}
	return b
}

// Arrive counts one completion and reports whether it released the barrier.
func (b *Barrier) Arrive() bool {
	if b.count.Add(1) == b.target {
		close(b.done)
		return true
	}
	return false
}

func (b *Barrier) Done() <-chan struct{} {
	return b.done
}

func (b *Barrier) Count() int {
	return int(b.count.Load())
}
