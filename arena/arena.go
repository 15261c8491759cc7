// Package arena implements a typed bump-pointer allocator.
//
// Objects handed out by an Arena are never freed one by one. They stay
// valid for as long as anything references the chunk they live in, which in
// practice means as long as the structure built on top of the arena.
package arena

import (
	"sync"
	"sync/atomic"
)

const DefaultChunkSize = 1024

// Arena allocates values of type T from fixed-size chunks.
// It is safe for concurrent use.
type Arena[T any] struct {
	chunkSize int

	cur atomic.Pointer[chunk[T]]

	mu     sync.Mutex
	chunks int

	allocated atomic.Int64
}

type chunk[T any] struct {
	items []T
	next  atomic.Int64
}

// New creates an arena that allocates chunkSize objects at a time.
// A non-positive chunkSize selects DefaultChunkSize.
func New[T any](chunkSize int) *Arena[T] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Arena[T]{chunkSize: chunkSize}
}

// New returns a pointer to a zero T. The pointer stays valid for the
// lifetime of the arena and is never reused.
func (a *Arena[T]) New() *T {
	for {
		c := a.cur.Load()
		if c != nil {
			// fetch-and-add: индекс выдаётся ровно одной горутине
			if i := c.next.Add(1) - 1; i < int64(len(c.items)) {
				a.allocated.Add(1)
				return &c.items[i]
			}
		}
		a.grow(c)
	}
}

// grow installs a fresh chunk unless another goroutine already replaced full.
func (a *Arena[T]) grow(full *chunk[T]) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur.Load() != full {
		return
	}
	a.cur.Store(&chunk[T]{items: make([]T, a.chunkSize)})
	a.chunks++
}

// Len returns the number of objects allocated so far.
func (a *Arena[T]) Len() int {
	return int(a.allocated.Load())
}

// Chunks returns the number of chunks allocated so far.
func (a *Arena[T]) Chunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chunks
}
