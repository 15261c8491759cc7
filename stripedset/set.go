// Package stripedset implements a hash set guarded by a fixed number of
// reader/writer locks.
//
// A key's stripe is hash % ConcurrencyLevel and its bucket is
// hash % BucketCount. The bucket count is always a multiple of the
// concurrency level, so a key keeps its stripe across resizes and every
// bucket belongs to exactly one stripe.
package stripedset

import (
	"sync/atomic"

	"go.uber.org/zap"

	"gitlab.com/slon/conc/rwmutex"
)

type options struct {
	config Config
	logger *zap.Logger
}

type Option func(*options)

func WithConfig(c Config) Option {
	return func(o *options) { o.config = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Set is a concurrent hash set of K.
type Set[K comparable] struct {
	hash   Hasher[K]
	config Config
	logger *zap.Logger

	stripes []*rwmutex.RWMutex
	// buckets заменяется только под всеми локами страйпов
	buckets [][]K

	size    atomic.Int64
	resizes atomic.Uint64
}

// New creates an empty set. It panics if the configured Config is invalid.
func New[K comparable](hash Hasher[K], opts ...Option) *Set[K] {
	o := options{
		config: DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		panic(err)
	}

	s := &Set[K]{
		hash:    hash,
		config:  o.config,
		logger:  o.logger,
		stripes: make([]*rwmutex.RWMutex, o.config.ConcurrencyLevel),
		buckets: make([][]K, o.config.ConcurrencyLevel),
	}
	for i := range s.stripes {
		s.stripes[i] = rwmutex.New()
	}
	return s
}

func (s *Set[K]) stripe(h uint64) *rwmutex.RWMutex {
	return s.stripes[h%uint64(len(s.stripes))]
}

func (s *Set[K]) bucket(h uint64) int {
	return int(h % uint64(len(s.buckets)))
}

// Insert adds key to the set. It returns false if key was already present.
func (s *Set[K]) Insert(key K) bool {
	h := s.hash(key)
	lock := s.stripe(h)

	lock.Lock()
	i := s.bucket(h)
	for _, k := range s.buckets[i] {
		if k == key {
			lock.Unlock()
			return false
		}
	}
	s.buckets[i] = append(s.buckets[i], key)
	size := s.size.Add(1)
	buckets := len(s.buckets)
	lock.Unlock()

	if float64(size) > s.config.MaxLoadFactor*float64(buckets) {
		s.resize(buckets * s.config.GrowthFactor)
	}
	return true
}

// Remove deletes key from the set. It returns false if key was absent.
func (s *Set[K]) Remove(key K) bool {
	h := s.hash(key)
	lock := s.stripe(h)

	lock.Lock()
	defer lock.Unlock()

	i := s.bucket(h)
	b := s.buckets[i]
	for j, k := range b {
		if k == key {
			last := len(b) - 1
			b[j] = b[last]
			var zero K
			b[last] = zero
			s.buckets[i] = b[:last]
			s.size.Add(-1)
			return true
		}
	}
	return false
}

// Contains reports whether key is in the set.
func (s *Set[K]) Contains(key K) bool {
	h := s.hash(key)
	lock := s.stripe(h)

	lock.RLock()
	defer lock.RUnlock()

	for _, k := range s.buckets[s.bucket(h)] {
		if k == key {
			return true
		}
	}
	return false
}

// Size returns the number of keys in the set.
func (s *Set[K]) Size() int {
	return int(s.size.Load())
}

// BucketCount returns the current number of buckets.
func (s *Set[K]) BucketCount() int {
	s.stripes[0].RLock()
	defer s.stripes[0].RUnlock()
	return len(s.buckets)
}

// resize grows the bucket array to target buckets unless another goroutine
// already did.
func (s *Set[K]) resize(target int) {
	// всегда в порядке возрастания индекса, иначе два resize взаимно заблокируются
	for _, l := range s.stripes {
		l.Lock()
	}
	defer func() {
		for i := len(s.stripes) - 1; i >= 0; i-- {
			s.stripes[i].Unlock()
		}
	}()

	old := s.buckets
	if len(old) >= target {
		return
	}

	buckets := make([][]K, target)
	for _, b := range old {
		for _, k := range b {
			i := int(s.hash(k) % uint64(target))
			buckets[i] = append(buckets[i], k)
		}
	}
	s.buckets = buckets
	s.resizes.Add(1)

	s.logger.Debug("resized striped set",
		zap.Int("from", len(old)),
		zap.Int("to", target),
		zap.Int64("size", s.size.Load()),
	)
}

// Stats is a snapshot of the set's counters.
type Stats struct {
	Resizes uint64
	Buckets int
	Size    int
}

func (s *Set[K]) Stats() Stats {
	return Stats{
		Resizes: s.resizes.Load(),
		Buckets: s.BucketCount(),
		Size:    s.Size(),
	}
}

// Counters returns the event counters of the snapshot.
func (s Stats) Counters() map[string]uint64 {
	return map[string]uint64{
		"resizes": s.Resizes,
	}
}
