package rwmutex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func pendingWriters(rw *RWMutex) int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.pendingWriters
}

func TestRWMutex_ManyReaders(t *testing.T) {
	rw := New()

	rw.RLock()
	rw.RLock()
	require.True(t, rw.TryRLock())
	require.False(t, rw.TryLock())

	rw.RUnlock()
	rw.RUnlock()
	rw.RUnlock()
	require.True(t, rw.TryLock())
	require.False(t, rw.TryRLock())
	rw.Unlock()
}

func TestRWMutex_UnlockOfUnlocked(t *testing.T) {
	rw := New()
	require.Panics(t, rw.Unlock)
	require.Panics(t, rw.RUnlock)
}

func TestRWMutex_WriterPriority(t *testing.T) {
	rw := New()
	rw.RLock()

	var order []string
	var orderMu sync.Mutex
	record := func(s string) {
		orderMu.Lock()
		defer orderMu.Unlock()
		order = append(order, s)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		rw.Lock()
		record("writer")
		rw.Unlock()
	}()

	require.Eventually(t, func() bool { return pendingWriters(rw) == 1 }, time.Second, time.Millisecond)

	// писатель зарегистрировался: новые читатели не проходят
	require.False(t, rw.TryRLock())

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		rw.RLock()
		record("reader")
		rw.RUnlock()
	}()

	select {
	case <-readerDone:
		t.Fatal("reader overtook a waiting writer")
	case <-time.After(50 * time.Millisecond):
	}

	rw.RUnlock()
	<-writerDone
	<-readerDone

	require.Equal(t, []string{"writer", "reader"}, order)
}

func TestRWMutex_TryLockYieldsToWaitingWriter(t *testing.T) {
	rw := New()

	// писатель уже разбужен, но ещё не захватил mu
	rw.mu.Lock()
	rw.pendingWriters++
	rw.mu.Unlock()

	require.False(t, rw.TryLock())
	require.False(t, rw.TryRLock())

	rw.mu.Lock()
	rw.pendingWriters--
	rw.mu.Unlock()

	require.True(t, rw.TryLock())
	rw.Unlock()
}

func TestRWMutex_RLocker(t *testing.T) {
	rw := New()
	l := rw.RLocker()

	l.Lock()
	require.False(t, rw.TryLock())
	l.Unlock()
	require.True(t, rw.TryLock())
	rw.Unlock()
}

func TestRWMutex_Consistency(t *testing.T) {
	const (
		writers    = 4
		readers    = 8
		iterations = 1000
	)

	rw := New()

	var (
		a, b       int
		violations atomic.Int64
		wg         sync.WaitGroup
	)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				rw.Lock()
				a++
				b++
				rw.Unlock()
			}
		}()
	}

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				rw.RLock()
				if a != b {
					violations.Add(1)
				}
				rw.RUnlock()
			}
		}()
	}
	wg.Wait()

	require.Zero(t, violations.Load())
	require.Equal(t, writers*iterations, a)
	require.Equal(t, a, b)
}
