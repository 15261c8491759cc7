package lfqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/eapache/queue"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"gitlab.com/slon/conc/epoch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()

	_, ok := q.Dequeue()
	require.False(t, ok)
	require.True(t, q.Empty())

	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}
	require.False(t, q.Empty())

	for i := 0; i < 10; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	_, ok = q.Dequeue()
	require.False(t, ok)
	require.True(t, q.Empty())
}

func TestQueue_Interleaved(t *testing.T) {
	q := New[string]()

	q.Enqueue("a")
	q.Enqueue("b")
	v, _ := q.Dequeue()
	require.Equal(t, "a", v)

	q.Enqueue("c")
	for _, want := range []string{"b", "c"} {
		v, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

type tagged struct {
	producer int
	seq      int
}

func TestQueue_MPMC(t *testing.T) {
	const (
		producers = 4
		consumers = 4
		perProd   = 5000
		total     = producers * perProd
	)

	q := New[tagged]()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed = make([][]tagged, consumers)
		taken    = make(chan struct{}, total)
	)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				q.Enqueue(tagged{producer: p, seq: i})
			}
		}(p)
	}

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			var local []tagged
			for len(taken) < total {
				v, ok := q.Dequeue()
				if !ok {
					continue
				}
				local = append(local, v)
				taken <- struct{}{}
			}
			mu.Lock()
			consumed[c] = local
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	seen := make(map[tagged]bool, total)
	for _, local := range consumed {
		// один потребитель видит значения одного производителя по порядку
		last := make(map[int]int)
		for _, v := range local {
			require.False(t, seen[v], "dequeued twice: %+v", v)
			seen[v] = true

			if prev, ok := last[v.producer]; ok {
				require.Less(t, prev, v.seq)
			}
			last[v.producer] = v.seq
		}
	}
	require.Len(t, seen, total)

	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestQueue_Reclamation(t *testing.T) {
	const n = 10000

	q := New[int]()
	for i := 0; i < n; i++ {
		q.Enqueue(i)
		_, ok := q.Dequeue()
		require.True(t, ok)
	}

	st := q.Stats()
	require.Equal(t, uint64(n), st.Retired)
	require.Positive(t, st.Reclaimed)

	q.domain.Flush()
	st = q.Stats()
	require.Equal(t, st.Retired, st.Reclaimed)

	c := st.Counters()
	require.Equal(t, uint64(n), c["retired"])
	require.Contains(t, c, "retries")
}

func TestQueue_ProgressWithPinnedSlots(t *testing.T) {
	q := New[int]()

	// застрявшие посреди операции горутины держат слоты эпохи
	held := q.domain.Stats().Slots + 8
	guards := make([]epoch.Guard, 0, held)
	for i := 0; i < held; i++ {
		guards = append(guards, q.domain.Pin())
	}
	defer func() {
		for _, g := range guards {
			g.Unpin()
		}
	}()

	done := make(chan int)
	go func() {
		defer close(done)
		if _, ok := q.Dequeue(); ok {
			panic("dequeued from an empty queue")
		}
		q.Enqueue(7)
		v, _ := q.Dequeue()
		done <- v
	}()

	select {
	case v := <-done:
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("queue operations blocked while epoch slots were held")
	}
	<-done
}

func TestQueue_Model(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := New[int]()
		model := queue.New()

		t.Repeat(map[string]func(*rapid.T){
			"enqueue": func(t *rapid.T) {
				v := rapid.Int().Draw(t, "v")
				q.Enqueue(v)
				model.Add(v)
			},
			"dequeue": func(t *rapid.T) {
				v, ok := q.Dequeue()
				if model.Length() == 0 {
					if ok {
						t.Fatalf("dequeued %d from an empty queue", v)
					}
					return
				}
				want := model.Remove().(int)
				if !ok || v != want {
					t.Fatalf("got (%d, %v), want (%d, true)", v, ok, want)
				}
			},
			"": func(t *rapid.T) {
				if q.Empty() != (model.Length() == 0) {
					t.Fatalf("Empty() = %v with %d queued", q.Empty(), model.Length())
				}
			},
		})
	})
}
