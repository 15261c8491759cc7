// Package epoch implements epoch-based memory reclamation for lock-free
// structures that recycle their nodes.
//
// Go's garbage collector already keeps an unlinked node alive while some
// goroutine still points to it, so reclamation here is about reuse: a node
// may be handed back to an allocator (and then relinked with new contents)
// only when no in-flight operation can still observe it. Reusing it earlier
// would let a stale compare-and-swap succeed on a recycled address (ABA) or
// let a reader see another operation's value.
//
// Every operation that dereferences shared nodes runs between Pin and
// Guard.Unpin. A pinned goroutine publishes the global epoch it observed in
// a slot. The global epoch advances only when every pinned slot shows the
// current value, so pinned goroutines are always at the global epoch or one
// behind it. A node retired while the global epoch was t was unlinked before
// anybody pinned at t+1 started; once the global epoch reaches t+2 nobody
// who could have seen it is still pinned, and the node is reclaimed.
//
// The slot list only grows. Pin links a new slot instead of waiting for a
// free one, so a stalled pinned goroutine delays reclamation but never other
// operations.
package epoch

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const (
	DefaultCollectEvery = 64
	minSlots            = 64
)

// Link is embedded in every node that can be retired through a Domain.
type Link[T any] struct {
	next  *T
	epoch uint64
}

// Retirable is implemented by pointers to nodes embedding a Link.
type Retirable[T any] interface {
	*T
	RetireLink() *Link[T]
}

// Domain tracks pinned goroutines and retired nodes of one structure.
type Domain[T any, P Retirable[T]] struct {
	global atomic.Uint64
	_      cpu.CacheLinePad

	// список слотов только растёт; next неизменен после публикации
	slots    atomic.Pointer[slot]
	numSlots atomic.Int64

	limbo atomic.Pointer[T]

	reclaim      func(P)
	collectEvery uint64

	retired   atomic.Uint64
	reclaimed atomic.Uint64
	advances  atomic.Uint64
}

// slot state: 0 means free, otherwise epoch<<1 | 1.
type slot struct {
	state atomic.Uint64
	next  *slot
	_     cpu.CacheLinePad
}

type options struct {
	slots        int
	collectEvery int
}

// Option configures a Domain.
type Option func(*options)

// WithSlots sets the number of slots allocated up front. When every slot is
// taken Pin links a new one, so the value only affects allocation.
func WithSlots(n int) Option {
	return func(o *options) { o.slots = n }
}

// WithCollectEvery sets how many retirements trigger a Collect.
func WithCollectEvery(n int) Option {
	return func(o *options) { o.collectEvery = n }
}

// NewDomain creates a reclamation domain. reclaim is called exactly once for
// every retired node after its grace period has elapsed, possibly from any
// goroutine calling Retire, Collect or Flush.
func NewDomain[T any, P Retirable[T]](reclaim func(P), opts ...Option) *Domain[T, P] {
	o := options{
		slots:        max(8*runtime.GOMAXPROCS(0), minSlots),
		collectEvery: DefaultCollectEvery,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.slots <= 0 {
		o.slots = minSlots
	}
	if o.collectEvery <= 0 {
		o.collectEvery = DefaultCollectEvery
	}

	d := &Domain[T, P]{
		reclaim:      reclaim,
		collectEvery: uint64(o.collectEvery),
	}
	for i := 0; i < o.slots; i++ {
		d.push(&slot{})
	}
	return d
}

// Guard is held by a pinned goroutine.
type Guard struct {
	s *slot
}

// Unpin releases the slot taken by Pin. The goroutine must not touch any
// node reached while pinned afterwards.
func (g Guard) Unpin() {
	g.s.state.Store(0)
}

// Pin announces that the calling goroutine is about to read shared nodes.
// It never waits for other goroutines: if every slot is taken it links a
// new one.
func (d *Domain[T, P]) Pin() Guard {
	e := d.global.Load()
	s := d.acquire(e)

	// эпоха могла сдвинуться между чтением и публикацией
	for {
		cur := d.global.Load()
		if cur == e {
			return Guard{s: s}
		}
		e = cur
		s.state.Store(e<<1 | 1)
	}
}

// acquire takes a free slot, or links a new one, publishing e in it.
func (d *Domain[T, P]) acquire(e uint64) *slot {
	for s := d.slots.Load(); s != nil; s = s.next {
		if s.state.Load() == 0 && s.state.CompareAndSwap(0, e<<1|1) {
			return s
		}
	}

	s := &slot{}
	s.state.Store(e<<1 | 1)
	d.push(s)
	return s
}

func (d *Domain[T, P]) push(s *slot) {
	for {
		head := d.slots.Load()
		s.next = head
		if d.slots.CompareAndSwap(head, s) {
			d.numSlots.Add(1)
			return
		}
	}
}

// Retire hands p over for reclamation. p must already be unreachable for
// operations that start after the call, and the caller must be pinned.
func (d *Domain[T, P]) Retire(p P) {
	p.RetireLink().epoch = d.global.Load()
	d.pushLimbo(p)
	if d.retired.Add(1)%d.collectEvery == 0 {
		d.Collect()
	}
}

// Collect tries to advance the global epoch and reclaims every retired node
// whose grace period has elapsed. It returns the number of reclaimed nodes.
func (d *Domain[T, P]) Collect() int {
	d.tryAdvance()
	return d.drain(d.global.Load())
}

// Flush collects until nothing more can be reclaimed. With no goroutine
// pinned it reclaims every retired node.
func (d *Domain[T, P]) Flush() {
	for i := 0; i < 3; i++ {
		d.Collect()
	}
}

func (d *Domain[T, P]) tryAdvance() bool {
	e := d.global.Load()
	for s := d.slots.Load(); s != nil; s = s.next {
		if st := s.state.Load(); st&1 == 1 && st>>1 != e {
			return false
		}
	}
	if d.global.CompareAndSwap(e, e+1) {
		d.advances.Add(1)
		return true
	}
	return false
}

func (d *Domain[T, P]) pushLimbo(p P) {
	l := p.RetireLink()
	for {
		head := d.limbo.Load()
		l.next = head
		if d.limbo.CompareAndSwap(head, (*T)(p)) {
			return
		}
	}
}

// drain takes the whole limbo list, reclaims what is older than global-1
// and puts the rest back.
func (d *Domain[T, P]) drain(global uint64) int {
	n := 0
	for cur := d.limbo.Swap(nil); cur != nil; {
		p := P(cur)
		l := p.RetireLink()
		cur, l.next = l.next, nil

		if l.epoch+2 <= global {
			d.reclaim(p)
			n++
		} else {
			d.pushLimbo(p)
		}
	}
	d.reclaimed.Add(uint64(n))
	return n
}

// Stats is a snapshot of a domain's counters.
type Stats struct {
	Epoch     uint64
	Retired   uint64
	Reclaimed uint64
	Advances  uint64
	Slots     int
}

// Pending returns the number of retired nodes not reclaimed yet.
func (s Stats) Pending() uint64 {
	return s.Retired - s.Reclaimed
}

func (d *Domain[T, P]) Stats() Stats {
	// reclaimed читается первым, чтобы Pending не ушёл в минус
	reclaimed := d.reclaimed.Load()
	return Stats{
		Epoch:     d.global.Load(),
		Retired:   d.retired.Load(),
		Reclaimed: reclaimed,
		Advances:  d.advances.Load(),
		Slots:     int(d.numSlots.Load()),
	}
}
