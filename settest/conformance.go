// Package settest holds the behaviour every concurrent set in this module
// must share. Set packages call Run from their own tests.
package settest

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Set is the common surface of the concurrent sets.
type Set[K any] interface {
	Insert(K) bool
	Remove(K) bool
	Contains(K) bool
	Size() int
}

// Run checks the set returned by newSet. newSet must return a fresh empty
// set on every call.
func Run(t *testing.T, newSet func() Set[int]) {
	t.Run("Sequential", func(t *testing.T) { testSequential(t, newSet()) })
	t.Run("Duplicates", func(t *testing.T) { testDuplicates(t, newSet()) })
	t.Run("ConcurrentDisjoint", func(t *testing.T) { testConcurrentDisjoint(t, newSet()) })
	t.Run("ConcurrentChurn", func(t *testing.T) { testConcurrentChurn(t, newSet()) })
	t.Run("Model", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) { checkModel(rt, newSet()) })
	})
}

func testSequential(t *testing.T, s Set[int]) {
	for _, tc := range []struct {
		op   string
		key  int
		want bool
		size int
	}{
		{op: "contains", key: 1, want: false, size: 0},
		{op: "insert", key: 1, want: true, size: 1},
		{op: "contains", key: 1, want: true, size: 1},
		{op: "insert", key: -5, want: true, size: 2},
		{op: "insert", key: 7, want: true, size: 3},
		{op: "remove", key: 2, want: false, size: 3},
		{op: "remove", key: 1, want: true, size: 2},
		{op: "contains", key: 1, want: false, size: 2},
		{op: "contains", key: -5, want: true, size: 2},
		{op: "remove", key: -5, want: true, size: 1},
		{op: "remove", key: 7, want: true, size: 0},
		{op: "insert", key: 1, want: true, size: 1},
	} {
		var got bool
		switch tc.op {
		case "insert":
			got = s.Insert(tc.key)
		case "remove":
			got = s.Remove(tc.key)
		case "contains":
			got = s.Contains(tc.key)
		}
		require.Equal(t, tc.want, got, "%s(%d)", tc.op, tc.key)
		require.Equal(t, tc.size, s.Size(), "size after %s(%d)", tc.op, tc.key)
	}
}

func testDuplicates(t *testing.T, s Set[int]) {
	require.True(t, s.Insert(42))
	for i := 0; i < 10; i++ {
		require.False(t, s.Insert(42))
	}
	require.Equal(t, 1, s.Size())

	require.True(t, s.Remove(42))
	require.False(t, s.Remove(42))
	require.Zero(t, s.Size())
}

func testConcurrentDisjoint(t *testing.T, s Set[int]) {
	const (
		goroutines = 8
		perG       = 1000
	)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				if !s.Insert(g*perG + i) {
					panic("disjoint insert reported a duplicate")
				}
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, goroutines*perG, s.Size())
	for k := 0; k < goroutines*perG; k++ {
		require.True(t, s.Contains(k), "key %d lost", k)
	}
}

func testConcurrentChurn(t *testing.T, s Set[int]) {
	const (
		goroutines = 8
		ops        = 4000
		keySpace   = 64
	)

	// net[k] = успешные вставки минус успешные удаления
	net := make([][keySpace]int, goroutines)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(g)))
			for i := 0; i < ops; i++ {
				k := rnd.Intn(keySpace)
				switch rnd.Intn(3) {
				case 0:
					if s.Insert(k) {
						net[g][k]++
					}
				case 1:
					if s.Remove(k) {
						net[g][k]--
					}
				default:
					s.Contains(k)
				}
			}
		}(g)
	}
	wg.Wait()

	size := 0
	for k := 0; k < keySpace; k++ {
		sum := 0
		for g := range net {
			sum += net[g][k]
		}
		require.Contains(t, []int{0, 1}, sum, "key %d", k)
		require.Equal(t, sum == 1, s.Contains(k), "key %d", k)
		size += sum
	}
	require.Equal(t, size, s.Size())
}

func checkModel(t *rapid.T, s Set[int]) {
	model := make(map[int]bool)
	key := rapid.IntRange(-16, 16)

	t.Repeat(map[string]func(*rapid.T){
		"insert": func(t *rapid.T) {
			k := key.Draw(t, "k")
			if got := s.Insert(k); got == model[k] {
				t.Fatalf("Insert(%d) = %v with key present = %v", k, got, model[k])
			}
			model[k] = true
		},
		"remove": func(t *rapid.T) {
			k := key.Draw(t, "k")
			if got := s.Remove(k); got != model[k] {
				t.Fatalf("Remove(%d) = %v with key present = %v", k, got, model[k])
			}
			delete(model, k)
		},
		"contains": func(t *rapid.T) {
			k := key.Draw(t, "k")
			if got := s.Contains(k); got != model[k] {
				t.Fatalf("Contains(%d) = %v, want %v", k, got, model[k])
			}
		},
		"": func(t *rapid.T) {
			if s.Size() != len(model) {
				t.Fatalf("Size() = %d, want %d", s.Size(), len(model))
			}
		},
	})
}
