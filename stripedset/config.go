package stripedset

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidConfig = errors.New("stripedset: invalid config")

// Config controls striping and growth of a Set.
type Config struct {
	// ConcurrencyLevel is the number of stripes. It never changes after
	// construction.
	ConcurrencyLevel int `yaml:"concurrency_level"`
	// GrowthFactor multiplies the bucket count on resize.
	GrowthFactor int `yaml:"growth_factor"`
	// MaxLoadFactor is the size to bucket count ratio that triggers a resize.
	MaxLoadFactor float64 `yaml:"max_load_factor"`
}

func DefaultConfig() Config {
	return Config{
		ConcurrencyLevel: 4,
		GrowthFactor:     2,
		MaxLoadFactor:    0.8,
	}
}

func (c Config) Validate() error {
	switch {
	case c.ConcurrencyLevel <= 0:
		return fmt.Errorf("%w: concurrency_level must be positive, got %d", ErrInvalidConfig, c.ConcurrencyLevel)
	case c.GrowthFactor < 2:
		return fmt.Errorf("%w: growth_factor must be at least 2, got %d", ErrInvalidConfig, c.GrowthFactor)
	case !(c.MaxLoadFactor > 0) || math.IsInf(c.MaxLoadFactor, 1):
		return fmt.Errorf("%w: max_load_factor must be positive and finite, got %v", ErrInvalidConfig, c.MaxLoadFactor)
	}
	return nil
}
