package barrier

import (
	"fmt"
	"sync"
)

// A CyclicBarrier lets a fixed number of goroutines wait for each other.
// Every goroutine calls PassThrough; all of them are released together once
// the last one arrives, and the barrier is immediately ready for the next
// round.
//
// Calling PassThrough from more goroutines than the barrier was created for
// within a single round is undefined.
type CyclicBarrier struct {
	mu      sync.Mutex
	arrived *sync.Cond

	parties   int
	remaining int
	// generation переключается каждый раз, когда барьер пройден
	generation bool
}

// New creates a barrier for parties goroutines. It panics if parties <= 0.
func New(parties int) *CyclicBarrier {
	if parties <= 0 {
		panic(fmt.Sprintf("barrier: invalid number of parties %d", parties))
	}
	b := &CyclicBarrier{
		parties:   parties,
		remaining: parties,
	}
	b.arrived = sync.NewCond(&b.mu)
	return b
}

// PassThrough blocks until all parties have called PassThrough in the
// current round.
func (b *CyclicBarrier) PassThrough() {
	b.mu.Lock()
	defer b.mu.Unlock()

	generation := b.generation
	b.remaining--
	if b.remaining == 0 {
		b.remaining = b.parties
		b.generation = !generation
		b.arrived.Broadcast()
		return
	}

	for generation == b.generation {
		b.arrived.Wait()
	}
}

// Parties returns the number of goroutines required to pass the barrier.
func (b *CyclicBarrier) Parties() int {
	return b.parties
}
