package spinlock

import (
	"sync"
	"sync/atomic"

	"gitlab.com/slon/conc/backoff"
)

// SpinLock is a test-and-test-and-set mutual exclusion lock.
// The zero value for a SpinLock is an unlocked lock.
//
// Waiters never block in the scheduler: they spin on a plain load of the
// flag and only retry the atomic swap once the lock looks free, escalating
// through backoff.Backoff while they wait. Use it for very short critical
// sections only.
type SpinLock struct {
	locked atomic.Bool
}

var _ sync.Locker = (*SpinLock)(nil)

// Lock locks l. If the lock is already in use, the calling goroutine
// spins until the lock is available.
func (l *SpinLock) Lock() {
	var b backoff.Backoff
	for l.locked.Swap(true) {
		for l.locked.Load() {
			b.Pause()
		}
	}
}

// TryLock tries to lock l and reports whether it succeeded.
func (l *SpinLock) TryLock() bool {
	return !l.locked.Load() && l.locked.CompareAndSwap(false, true)
}

// Unlock unlocks l. It is a run-time error if l is not locked on entry
// to Unlock.
//
// As with sync.Mutex, a locked SpinLock is not associated with a particular
// goroutine.
func (l *SpinLock) Unlock() {
	if !l.locked.Swap(false) {
		panic("spinlock: unlock of unlocked SpinLock")
	}
}
