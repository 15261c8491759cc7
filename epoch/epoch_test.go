package epoch

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

type item struct {
	id        int
	reclaimed atomic.Int32
	link      Link[item]
}

func (i *item) RetireLink() *Link[item] { return &i.link }

type recorder struct {
	mu  sync.Mutex
	ids []int
}

func (r *recorder) reclaim(i *item) {
	if i.reclaimed.Add(1) != 1 {
		panic("item reclaimed twice")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, i.id)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func TestDomain_PinnedBlocksReclamation(t *testing.T) {
	var rec recorder
	d := NewDomain[item](rec.reclaim, WithCollectEvery(1000))

	reader := d.Pin()

	writer := d.Pin()
	d.Retire(&item{id: 1})
	writer.Unpin()

	for i := 0; i < 10; i++ {
		d.Collect()
	}
	require.Zero(t, rec.count(), "reclaimed while a reader is pinned")
	require.LessOrEqual(t, d.Stats().Epoch, uint64(1))

	reader.Unpin()
	d.Flush()

	require.Equal(t, 1, rec.count())
	st := d.Stats()
	require.Equal(t, uint64(1), st.Retired)
	require.Equal(t, uint64(1), st.Reclaimed)
	require.Zero(t, st.Pending())
}

func TestDomain_LatePinDoesNotBlock(t *testing.T) {
	var rec recorder
	d := NewDomain[item](rec.reclaim, WithCollectEvery(1000))

	g := d.Pin()
	d.Retire(&item{id: 1})
	g.Unpin()

	// пришедший позже не мог видеть удалённый узел
	late := d.Pin()
	d.Collect()
	d.Collect()
	late.Unpin()
	d.Collect()

	require.Equal(t, 1, rec.count())
}

func TestDomain_CollectEvery(t *testing.T) {
	var rec recorder
	d := NewDomain[item](rec.reclaim, WithCollectEvery(4))

	for i := 0; i < 100; i++ {
		g := d.Pin()
		d.Retire(&item{id: i})
		g.Unpin()
	}

	st := d.Stats()
	require.Positive(t, st.Advances)
	require.Positive(t, st.Reclaimed)
	require.Less(t, st.Pending(), uint64(100))

	d.Flush()
	require.Equal(t, 100, rec.count())
}

func TestDomain_PinGrowsSlots(t *testing.T) {
	var rec recorder
	d := NewDomain[item](rec.reclaim, WithSlots(1), WithCollectEvery(1000))
	require.Equal(t, 1, d.Stats().Slots)

	first := d.Pin()

	pinned := make(chan Guard)
	go func() {
		pinned <- d.Pin()
	}()

	var second Guard
	select {
	case second = <-pinned:
	case <-time.After(time.Second):
		t.Fatal("Pin blocked while every slot was taken")
	}
	require.Equal(t, 2, d.Stats().Slots)

	// новый слот тоже задерживает освобождение
	d.Retire(&item{id: 1})
	first.Unpin()
	for i := 0; i < 10; i++ {
		d.Collect()
	}
	require.Zero(t, rec.count())

	second.Unpin()
	d.Flush()
	require.Equal(t, 1, rec.count())

	// освободившиеся слоты переиспользуются
	g := d.Pin()
	g.Unpin()
	require.Equal(t, 2, d.Stats().Slots)
}

func TestDomain_PinNeverWaits(t *testing.T) {
	const held = 200

	var rec recorder
	d := NewDomain[item](rec.reclaim)

	guards := make([]Guard, 0, held)
	for i := 0; i < held; i++ {
		guards = append(guards, d.Pin())
	}
	require.GreaterOrEqual(t, d.Stats().Slots, held)

	for _, g := range guards {
		g.Unpin()
	}
}

func TestDomain_Concurrent(t *testing.T) {
	const (
		goroutines = 8
		perG       = 2000
	)

	var rec recorder
	d := NewDomain[item](rec.reclaim, WithCollectEvery(16))

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				guard := d.Pin()
				d.Retire(&item{id: g*perG + i})
				guard.Unpin()
			}
		}(g)
	}
	wg.Wait()
	d.Flush()

	require.Equal(t, goroutines*perG, rec.count())

	seen := make(map[int]bool, goroutines*perG)
	for _, id := range rec.ids {
		require.False(t, seen[id])
		seen[id] = true
	}
}
