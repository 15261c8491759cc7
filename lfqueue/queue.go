// Package lfqueue implements the Michael-Scott lock-free FIFO queue.
package lfqueue

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"gitlab.com/slon/conc/backoff"
	"gitlab.com/slon/conc/epoch"
)

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
	link  epoch.Link[node[T]]
}

func (n *node[T]) RetireLink() *epoch.Link[node[T]] { return &n.link }

// Queue is an unbounded multi-producer multi-consumer FIFO queue.
//
// head always points to a dummy node whose successor holds the oldest
// value; tail points to the last node or lags one step behind it. Dequeued
// dummies are retired into an epoch domain and reused by Enqueue once no
// operation can still reach them.
//
// Queue must be created with New.
type Queue[T any] struct {
	head atomic.Pointer[node[T]]
	_    cpu.CacheLinePad
	tail atomic.Pointer[node[T]]
	_    cpu.CacheLinePad

	free   sync.Pool
	domain *epoch.Domain[node[T], *node[T]]

	retries atomic.Uint64
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.domain = epoch.NewDomain[node[T]](q.recycle)

	dummy := &node[T]{}
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

// Enqueue appends v to the tail of the queue. It never fails.
func (q *Queue[T]) Enqueue(v T) {
	n := q.newNode(v)

	g := q.domain.Pin()
	defer g.Unpin()

	var b backoff.Backoff
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}

		if next == nil {
			// точка линеаризации: узел прицеплен к последнему
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				return
			}
		} else {
			// tail отстал, помогаем
			q.tail.CompareAndSwap(tail, next)
		}

		q.retries.Add(1)
		b.Pause()
	}
}

// Dequeue removes and returns the value at the head of the queue.
// ok is false if the queue was observed empty.
func (q *Queue[T]) Dequeue() (v T, ok bool) {
	g := q.domain.Pin()
	defer g.Unpin()

	var b backoff.Backoff
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}

		if head == tail {
			if next == nil {
				return v, false
			}
			q.tail.CompareAndSwap(tail, next)
		} else {
			// значение читаем до CAS: после него next станет
			// фиктивным узлом, который кто-то может вытащить
			value := next.value
			if q.head.CompareAndSwap(head, next) {
				q.domain.Retire(head)
				return value, true
			}
		}

		q.retries.Add(1)
		b.Pause()
	}
}

// Empty reports whether the queue was observed empty.
func (q *Queue[T]) Empty() bool {
	g := q.domain.Pin()
	defer g.Unpin()

	return q.head.Load().next.Load() == nil
}

func (q *Queue[T]) newNode(v T) *node[T] {
	if n, ok := q.free.Get().(*node[T]); ok {
		n.value = v
		return n
	}
	return &node[T]{value: v}
}

func (q *Queue[T]) recycle(n *node[T]) {
	var zero T
	n.value = zero
	n.next.Store(nil)
	q.free.Put(n)
}

// Stats is a snapshot of the queue's contention and reclamation counters.
type Stats struct {
	Retries   uint64
	Retired   uint64
	Reclaimed uint64
}

func (q *Queue[T]) Stats() Stats {
	d := q.domain.Stats()
	return Stats{
		Retries:   q.retries.Load(),
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
