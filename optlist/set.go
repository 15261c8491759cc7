// Package optlist implements a sorted set on a lazy optimistic linked list.
//
// Lookups never lock. Updates walk the list without locks, lock the two
// nodes around the key and then validate that nothing changed under them;
// a failed validation restarts the operation from the head. Removal marks a
// node before unlinking it, so an unmarked node reached by a walk is in the
// set.
package optlist

import (
	"sync/atomic"

	"golang.org/x/exp/constraints"

	"gitlab.com/slon/conc/arena"
	"gitlab.com/slon/conc/backoff"
	"gitlab.com/slon/conc/spinlock"
)

// Node is a list node. Its fields are private; the type is exported only so
// that callers can create the arena a Set allocates from.
type Node[K constraints.Ordered] struct {
	key    K
	next   atomic.Pointer[Node[K]]
	mu     spinlock.SpinLock
	marked atomic.Bool
}

// Set is a concurrent sorted set of K.
//
// Nodes come from an arena and are never freed individually; removed keys
// keep their node until the arena is dropped.
type Set[K constraints.Ordered] struct {
	nodes *arena.Arena[Node[K]]

	// сторожа различаются по адресу, а не по ключу
	head *Node[K]
	tail *Node[K]

	size     atomic.Int64
	failures atomic.Uint64
}

// New creates an empty set allocating nodes from a.
func New[K constraints.Ordered](a *arena.Arena[Node[K]]) *Set[K] {
	s := &Set[K]{
		nodes: a,
		head:  a.New(),
		tail:  a.New(),
	}
	s.head.next.Store(s.tail)
	return s
}

// locate returns adjacent pred and curr with pred.key < key <= curr.key,
// where head sorts before every key and tail after every key.
func (s *Set[K]) locate(key K) (pred, curr *Node[K]) {
	pred = s.head
	curr = pred.next.Load()
	for curr != s.tail && curr.key < key {
		pred = curr
		curr = curr.next.Load()
	}
	return pred, curr
}

func (s *Set[K]) validate(pred, curr *Node[K]) bool {
	return !pred.marked.Load() && !curr.marked.Load() && pred.next.Load() == curr
}

func (s *Set[K]) holds(curr *Node[K], key K) bool {
	return curr != s.tail && curr.key == key
}

// Insert adds key to the set. It returns false if key was already present.
func (s *Set[K]) Insert(key K) bool {
	var b backoff.Backoff
	for {
		pred, curr := s.locate(key)

		pred.mu.Lock()
		curr.mu.Lock()
		if s.validate(pred, curr) {
			ok := !s.holds(curr, key)
			if ok {
				n := s.nodes.New()
				n.key = key
				n.next.Store(curr)
				pred.next.Store(n)
				s.size.Add(1)
			}
			curr.mu.Unlock()
			pred.mu.Unlock()
			return ok
		}
		curr.mu.Unlock()
		pred.mu.Unlock()

		s.failures.Add(1)
		b.Pause()
	}
}

// Remove deletes key from the set. It returns false if key was absent.
func (s *Set[K]) Remove(key K) bool {
	var b backoff.Backoff
	for {
		pred, curr := s.locate(key)

		pred.mu.Lock()
		curr.mu.Lock()
		if s.validate(pred, curr) {
			ok := s.holds(curr, key)
			if ok {
				// сначала логическое удаление, потом физическое
				curr.marked.Store(true)
				pred.next.Store(curr.next.Load())
				s.size.Add(-1)
			}
			curr.mu.Unlock()
			pred.mu.Unlock()
			return ok
		}
		curr.mu.Unlock()
		pred.mu.Unlock()

		s.failures.Add(1)
		b.Pause()
	}
}

// Contains reports whether key is in the set. It never blocks.
func (s *Set[K]) Contains(key K) bool {
	curr := s.head.next.Load()
	for curr != s.tail && curr.key < key {
		curr = curr.next.Load()
	}
	return s.holds(curr, key) && !curr.marked.Load()
}

// Size returns the number of keys in the set.
func (s *Set[K]) Size() int {
	return int(s.size.Load())
}

// Range calls f for every key in ascending order until f returns false.
// Keys inserted or removed concurrently may or may not be visited.
func (s *Set[K]) Range(f func(K) bool) {
	for curr := s.head.next.Load(); curr != s.tail; curr = curr.next.Load() {
		if curr.marked.Load() {
			continue
		}
		if !f(curr.key) {
			return
		}
	}
}

// Keys returns the keys in ascending order.
func (s *Set[K]) Keys() []K {
	keys := make([]K, 0, s.Size())
	s.Range(func(k K) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Stats is a snapshot of the set's counters.
type Stats struct {
	ValidationFailures uint64
	Size               int
}

func (s *Set[K]) Stats() Stats {
	return Stats{
		ValidationFailures: s.failures.Load(),
		Size:               s.Size(),
	}
}

// Counters returns the event counters of the snapshot.
func (s Stats) Counters() map[string]uint64 {
	return map[string]uint64{
		"validation_failures": s.ValidationFailures,
	}
}
