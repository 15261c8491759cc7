package rwmutex

import "sync"

// A RWMutex is a reader/writer mutual exclusion lock with writer priority.
// The lock can be held by an arbitrary number of readers or a single writer.
//
// Once a goroutine has called Lock, no new reader may acquire the lock until
// that writer has acquired and released it, even if readers currently hold
// the lock. This prevents writer starvation under a read-heavy load, and it
// also prohibits recursive read locking: a blocked Lock call excludes new
// readers, including a goroutine that already holds a read lock.
type RWMutex struct {
	mu sync.Mutex
	// readers ждут, пока нет ни активного, ни ожидающего писателя
	readersCond *sync.Cond
	// writers ждут, пока нет ни активного писателя, ни читателей
	writersCond *sync.Cond

	readers        int
	writer         bool
	pendingWriters int
}

// New creates *RWMutex.
func New() *RWMutex {
	rw := &RWMutex{}
	rw.readersCond = sync.NewCond(&rw.mu)
	rw.writersCond = sync.NewCond(&rw.mu)
	return rw
}

// RLock locks rw for reading.
//
// It blocks while a writer holds the lock or is waiting for it. See the
// documentation on the RWMutex type.
func (rw *RWMutex) RLock() {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	for !rw.canRead() {
		rw.readersCond.Wait()
	}
	rw.readers++
}

// TryRLock tries to lock rw for reading and reports whether it succeeded.
// Like RLock it fails while a writer is waiting.
func (rw *RWMutex) TryRLock() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if !rw.canRead() {
		return false
	}
	rw.readers++
	return true
}

// RUnlock undoes a single RLock call;
// it does not affect other simultaneous readers.
// It is a run-time error if rw is not locked for reading
// on entry to RUnlock.
func (rw *RWMutex) RUnlock() {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.readers == 0 {
		panic("rwmutex: RUnlock of unlocked RWMutex")
	}
	rw.readers--
	if rw.readers == 0 {
		rw.writersCond.Signal()
	}
}

// Lock locks rw for writing.
// If the lock is already locked for reading or writing,
// Lock blocks until the lock is available.
func (rw *RWMutex) Lock() {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.pendingWriters++
	for !rw.canWrite() {
		rw.writersCond.Wait()
	}
	rw.pendingWriters--
	rw.writer = true
}

// TryLock tries to lock rw for writing and reports whether it succeeded.
// It fails while another writer is waiting in Lock, so it never overtakes
// queued writers.
func (rw *RWMutex) TryLock() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if !rw.canWrite() || rw.pendingWriters > 0 {
		return false
	}
	rw.writer = true
	return true
}

// Unlock unlocks rw for writing. It is a run-time error if rw is
// not locked for writing on entry to Unlock.
//
// As with Mutexes, a locked RWMutex is not associated with a particular
// goroutine. One goroutine may RLock (Lock) a RWMutex and then
// arrange for another goroutine to RUnlock (Unlock) it.
func (rw *RWMutex) Unlock() {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if !rw.writer {
		panic("rwmutex: Unlock of unlocked RWMutex")
	}
	rw.writer = false
	rw.writersCond.Signal()
	rw.readersCond.Broadcast()
}

// RLocker returns a sync.Locker interface that implements
// the Lock and Unlock methods by calling rw.RLock and rw.RUnlock.
func (rw *RWMutex) RLocker() sync.Locker {
	return (*rlocker)(rw)
}

func (rw *RWMutex) canRead() bool {
	return !rw.writer && rw.pendingWriters == 0
}

func (rw *RWMutex) canWrite() bool {
	return !rw.writer && rw.readers == 0
}

type rlocker RWMutex

func (r *rlocker) Lock()   { (*RWMutex)(r).RLock() }
func (r *rlocker) Unlock() { (*RWMutex)(r).RUnlock() }
