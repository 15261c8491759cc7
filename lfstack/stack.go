// Package lfstack implements the Treiber lock-free LIFO stack.
package lfstack

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"gitlab.com/slon/conc/backoff"
	"gitlab.com/slon/conc/epoch"
)

type node[T any] struct {
	value T
	next  *node[T]
	link  epoch.Link[node[T]]
}

func (n *node[T]) RetireLink() *epoch.Link[node[T]] { return &n.link }

// Stack is an unbounded lock-free LIFO stack.
//
// Popped nodes are retired into an epoch domain and reused by Push only after
// every Pop that could still hold them has finished, so a stale CAS on top
// never succeeds against a recycled node.
//
// Stack must be created with New.
type Stack[T any] struct {
	top atomic.Pointer[node[T]]
	_   cpu.CacheLinePad

	free   sync.Pool
	domain *epoch.Domain[node[T], *node[T]]

	retries atomic.Uint64
}

// New creates an empty stack.
func New[T any]() *Stack[T] {
	s := &Stack[T]{}
	s.domain = epoch.NewDomain[node[T]](s.recycle)
	return s
}

// Push puts v on top of the stack.
func (s *Stack[T]) Push(v T) {
	n := s.newNode(v)

	// top не разыменовывается, поэтому Push не закрепляется в эпохе
	var b backoff.Backoff
	for {
		top := s.top.Load()
		n.next = top
		if s.top.CompareAndSwap(top, n) {
			return
		}
		s.retries.Add(1)
		b.Pause()
	}
}

// Pop removes and returns the top value. ok is false if the stack was
// observed empty.
func (s *Stack[T]) Pop() (v T, ok bool) {
	g := s.domain.Pin()
	defer g.Unpin()

	var b backoff.Backoff
	for {
		top := s.top.Load()
		if top == nil {
			return v, false
		}
		if s.top.CompareAndSwap(top, top.next) {
			v = top.value
			s.domain.Retire(top)
			return v, true
		}
		s.retries.Add(1)
		b.Pause()
	}
}

// Empty reports whether the stack was observed empty.
func (s *Stack[T]) Empty() bool {
	return s.top.Load() == nil
}

func (s *Stack[T]) newNode(v T) *node[T] {
	if n, ok := s.free.Get().(*node[T]); ok {
		n.value = v
		return n
	}
	return &node[T]{value: v}
}

func (s *Stack[T]) recycle(n *node[T]) {
	var zero T
	n.value = zero
	n.next = nil
	s.free.Put(n)
}

// Stats is a snapshot of the stack's contention and reclamation counters.
type Stats struct {
	Retries   uint64
	Retired   uint64
	Reclaimed uint64
}

func (s *Stack[T]) Stats() Stats {
	d := s.domain.Stats()
	return Stats{
		Retries:   s.retries.Load(),
		Retired:   d.Retired,
		Reclaimed: d.Reclaimed,
	}
}

// Counters returns the stats keyed by event name.
func (s Stats) Counters() map[string]uint64 {
	return map[string]uint64{
		"retries":   s.Retries,
		"retired":   s.Retired,
		"reclaimed": s.Reclaimed,
	}
}
