package stripedset

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/constraints"
)

// Hasher maps a key to a 64-bit hash. Equal keys must hash equally.
type Hasher[K any] func(K) uint64

func String(s string) uint64 {
	return xxhash.Sum64String(s)
}

func Bytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// Int hashes the two's complement bytes of k.
func Int[K constraints.Integer](k K) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k))
	return xxhash.Sum64(buf[:])
}
