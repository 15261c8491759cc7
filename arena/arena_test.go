package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type point struct {
	x, y int
}

func TestArena_ZeroedAndStable(t *testing.T) {
	a := New[point](4)

	var ps []*point
	for i := 0; i < 10; i++ {
		p := a.New()
		require.Equal(t, point{}, *p)
		p.x, p.y = i, -i
		ps = append(ps, p)
	}

	for i, p := range ps {
		require.Equal(t, point{x: i, y: -i}, *p)
	}
	require.Equal(t, 10, a.Len())
	require.Equal(t, 3, a.Chunks())
}

func TestArena_DefaultChunkSize(t *testing.T) {
	for _, size := range []int{0, -5} {
		a := New[int](size)
		require.Equal(t, DefaultChunkSize, a.chunkSize)
	}
}

func TestArena_ConcurrentUnique(t *testing.T) {
	const (
		goroutines = 8
		perG       = 1000
	)

	a := New[int](64)

	var wg sync.WaitGroup
	results := make([][]*int, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				p := a.New()
				*p = g*perG + i
				results[g] = append(results[g], p)
			}
		}(g)
	}
	wg.Wait()

	seen := make(map[*int]struct{}, goroutines*perG)
	for g, ps := range results {
		for i, p := range ps {
			_, dup := seen[p]
			require.False(t, dup, "pointer handed out twice")
			seen[p] = struct{}{}
			require.Equal(t, g*perG+i, *p)
		}
	}
	require.Equal(t, goroutines*perG, a.Len())
	require.GreaterOrEqual(t, a.Chunks(), goroutines*perG/64)
}
