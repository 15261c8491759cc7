package stress

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"gitlab.com/slon/conc/arena"
	"gitlab.com/slon/conc/barrier"
	"gitlab.com/slon/conc/lfqueue"
	"gitlab.com/slon/conc/lfstack"
	"gitlab.com/slon/conc/metrics"
	"gitlab.com/slon/conc/optlist"
	"gitlab.com/slon/conc/rwmutex"
	"gitlab.com/slon/conc/stripedset"
)

type env struct {
	config  Config
	publish func(structure string, src metrics.Source)
}

type workload func(ctx context.Context, e *env) (ops int64, err error)

var workloads = map[string]workload{
	"queue":      runQueue,
	"stack":      runStack,
	"stripedset": runStripedSet,
	"optlist":    runOptList,
	"barrier":    runBarrier,
	"rwmutex":    runRWMutex,
}

// Workloads returns the names of all known workloads.
func Workloads() []string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

func split(workers int) (producers, consumers int) {
	producers = max(workers/2, 1)
	consumers = max(workers-producers, 1)
	return producers, consumers
}

type tagged struct {
	producer int
	seq      int
}

// runQueue checks that every value is dequeued exactly once and that a
// consumer sees each producer's values in order.
func runQueue(ctx context.Context, e *env) (int64, error) {
	producers, consumers := split(e.config.Workers)
	perProducer := e.config.Ops
	total := int64(producers * perProducer)

	q := lfqueue.New[tagged]()
	e.publish("queue", func() map[string]uint64 { return q.Stats().Counters() })

	taken := make([]atomic.Int32, total)
	var consumed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for p := 0; p < producers; p++ {
		p := p
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				q.Enqueue(tagged{producer: p, seq: i})
			}
			return nil
		})
	}
	for c := 0; c < consumers; c++ {
		g.Go(func() error {
			last := make([]int, producers)
			for i := range last {
				last[i] = -1
			}

			for consumed.Load() < total {
				if err := ctx.Err(); err != nil {
					return err
				}
				v, ok := q.Dequeue()
				if !ok {
					runtime.Gosched()
					continue
				}
				consumed.Add(1)

				if n := taken[v.producer*perProducer+v.seq].Add(1); n != 1 {
					return violation("queue: value %+v dequeued %d times", v, n)
				}
				if v.seq <= last[v.producer] {
					return violation("queue: producer %d reordered: %d after %d", v.producer, v.seq, last[v.producer])
				}
				last[v.producer] = v.seq
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if v, ok := q.Dequeue(); ok {
		return 0, violation("queue: extra value %+v after all were consumed", v)
	}
	return 2 * total, nil
}

// runStack checks that pushes and pops balance and no value is popped twice.
func runStack(ctx context.Context, e *env) (int64, error) {
	workers := e.config.Workers
	perWorker := e.config.Ops
	total := workers * perWorker

	s := lfstack.New[int]()
	e.publish("stack", func() map[string]uint64 { return s.Stats().Counters() })

	popped := make([]atomic.Int32, total)
	pop := func() (bool, error) {
		v, ok := s.Pop()
		if !ok {
			return false, nil
		}
		if v < 0 || v >= total {
			return true, violation("stack: popped unknown value %d", v)
		}
		if n := popped[v].Add(1); n != 1 {
			return true, violation("stack: value %d popped %d times", v, n)
		}
		return true, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				s.Push(w*perWorker + i)
				if i%2 == 1 {
					if _, err := pop(); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for {
		ok, err := pop()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
	}

	for v := range popped {
		if popped[v].Load() != 1 {
			return 0, violation("stack: value %d lost", v)
		}
	}
	return int64(2 * total), nil
}

type set interface {
	Insert(int) bool
	Remove(int) bool
	Contains(int) bool
	Size() int
}

// churn runs random inserts, removes and lookups and returns, per worker,
// successful inserts minus successful removes for every key.
func churn(ctx context.Context, s set, workers, ops, keySpace int) ([][]int, error) {
	net := make([][]int, workers)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		net[w] = make([]int, keySpace)
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < ops; i++ {
				if i%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				k := rnd.Intn(keySpace)
				switch rnd.Intn(3) {
				case 0:
					if s.Insert(k) {
						net[w][k]++
					}
				case 1:
					if s.Remove(k) {
						net[w][k]--
					}
				default:
					s.Contains(k)
				}
			}
			return nil
		})
	}
	return net, g.Wait()
}

// verifyChurn checks a quiescent set against the per-worker balances
// returned by churn: no update may be lost or duplicated.
func verifyChurn(s set, net [][]int, keySpace int) error {
	size := 0
	for k := 0; k < keySpace; k++ {
		sum := 0
		for w := range net {
			sum += net[w][k]
		}
		if sum != 0 && sum != 1 {
			return violation("key %d inserted %d times more than removed", k, sum)
		}
		if got := s.Contains(k); got != (sum == 1) {
			return violation("key %d: Contains = %v, balance %d", k, got, sum)
		}
		size += sum
	}
	if s.Size() != size {
		return violation("Size = %d, want %d", s.Size(), size)
	}
	return nil
}

func runStripedSet(ctx context.Context, e *env) (int64, error) {
	s := stripedset.New(stripedset.Int[int], stripedset.WithConfig(e.config.StripedSet))
	e.publish("stripedset", func() map[string]uint64 { return s.Stats().Counters() })

	net, err := churn(ctx, s, e.config.Workers, e.config.Ops, e.config.KeySpace)
	if err != nil {
		return 0, err
	}
	if err := verifyChurn(s, net, e.config.KeySpace); err != nil {
		return 0, fmt.Errorf("stripedset: %w", err)
	}
	if b := s.BucketCount(); b%e.config.StripedSet.ConcurrencyLevel != 0 {
		return 0, violation("stripedset: %d buckets for %d stripes", b, e.config.StripedSet.ConcurrencyLevel)
	}
	return int64(e.config.Workers * e.config.Ops), nil
}

func runOptList(ctx context.Context, e *env) (int64, error) {
	s := optlist.New(arena.New[optlist.Node[int]](e.config.ArenaChunk))
	e.publish("optlist", func() map[string]uint64 { return s.Stats().Counters() })

	net, err := churn(ctx, s, e.config.Workers, e.config.Ops, e.config.KeySpace)
	if err != nil {
		return 0, err
	}
	if err := verifyChurn(s, net, e.config.KeySpace); err != nil {
		return 0, fmt.Errorf("optlist: %w", err)
	}

	keys := s.Keys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			return 0, violation("optlist: keys out of order: %d before %d", keys[i-1], keys[i])
		}
	}
	if len(keys) != s.Size() {
		return 0, violation("optlist: %d reachable keys, Size = %d", len(keys), s.Size())
	}
	return int64(e.config.Workers * e.config.Ops), nil
}

// runBarrier checks that no goroutine starts round r+1 before every
// goroutine has finished round r.
func runBarrier(ctx context.Context, e *env) (int64, error) {
	parties := e.config.Workers
	rounds := e.config.Rounds

	b := barrier.New(parties)

	var (
		counter  atomic.Int64
		failures atomic.Int64
		first    atomic.Pointer[error]
	)
	fail := func(err error) {
		failures.Add(1)
		first.CompareAndSwap(nil, &err)
	}

	// все участники обязаны пройти все раунды, иначе остальные зависнут на
	// барьере, поэтому нарушения только запоминаются
	var g errgroup.Group
	for w := 0; w < parties; w++ {
		g.Go(func() error {
			for r := 0; r < rounds; r++ {
				lo, hi := int64(r*parties), int64((r+1)*parties)
				if c := counter.Add(1); c <= lo || c > hi {
					fail(violation("barrier: round %d arrival counted as %d", r, c))
				}

				b.PassThrough()

				if c := counter.Load(); c < hi || c >= hi+int64(parties) {
					fail(violation("barrier: after round %d counter is %d", r, c))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	e.publish("barrier", func() map[string]uint64 {
		return map[string]uint64{"rounds": uint64(rounds), "violations": uint64(failures.Load())}
	})

	if err := first.Load(); err != nil {
		return 0, *err
	}
	return int64(parties * rounds), ctx.Err()
}

// runRWMutex checks that readers never see a half-applied write.
func runRWMutex(ctx context.Context, e *env) (int64, error) {
	writers := max(e.config.Workers/4, 1)
	readers := max(e.config.Workers-writers, 1)
	ops := e.config.Ops

	rw := rwmutex.New()
	var (
		a, b       int
		readsDone  atomic.Uint64
		writesDone atomic.Uint64
	)
	e.publish("rwmutex", func() map[string]uint64 {
		return map[string]uint64{"reads": readsDone.Load(), "writes": writesDone.Load()}
	})

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			for i := 0; i < ops; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				rw.Lock()
				a++
				b++
				rw.Unlock()
				writesDone.Add(1)
			}
			return nil
		})
	}
	for r := 0; r < readers; r++ {
		g.Go(func() error {
			l := rw.RLocker()
			for i := 0; i < ops; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				l.Lock()
				x, y := a, b
				l.Unlock()
				readsDone.Add(1)
				if x != y {
					return violation("rwmutex: reader saw a=%d b=%d", x, y)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if a != writers*ops || b != a {
		return 0, violation("rwmutex: lost writes: a=%d b=%d, want %d", a, b, writers*ops)
	}
	return int64((writers + readers) * ops), nil
}
