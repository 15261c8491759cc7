package stress

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"gitlab.com/slon/conc/stripedset"
)

var ErrInvalidConfig = errors.New("stress: invalid config")

// Config describes one torture run.
type Config struct {
	// Workers is the number of goroutines per workload.
	Workers int `yaml:"workers"`
	// Ops is the number of operations each worker performs.
	Ops int `yaml:"ops"`
	// Rounds is the number of barrier rounds.
	Rounds int `yaml:"rounds"`
	// KeySpace bounds the keys used by the set workloads.
	KeySpace int `yaml:"key_space"`
	// ArenaChunk is the node chunk size of the optimistic list.
	ArenaChunk int `yaml:"arena_chunk"`
	// Workloads to run, in order. Empty means all.
	Workloads []string `yaml:"workloads"`

	StripedSet stripedset.Config `yaml:"striped_set"`
}

func DefaultConfig() Config {
	return Config{
		Workers:    4,
		Ops:        10000,
		Rounds:     100,
		KeySpace:   256,
		ArenaChunk: 1024,
		Workloads:  Workloads(),
		StripedSet: stripedset.DefaultConfig(),
	}
}

// LoadConfig reads a YAML config. Fields missing from the file keep their
// default values.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	// пустой файл означает конфигурацию по умолчанию
	if len(data) == 0 {
		return config, nil
	}

	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(config.Workloads) == 0 {
		config.Workloads = Workloads()
	}

	return config, config.Validate()
}

func (c Config) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"workers", c.Workers},
		{"ops", c.Ops},
		{"rounds", c.Rounds},
		{"key_space", c.KeySpace},
	} {
		if f.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, f.name, f.value)
		}
	}

	for _, name := range c.Workloads {
		if _, ok := workloads[name]; !ok {
			return fmt.Errorf("%w: unknown workload %q", ErrInvalidConfig, name)
		}
	}

	if err := c.StripedSet.Validate(); err != nil {
		return fmt.Errorf("%w: striped_set: %w", ErrInvalidConfig, err)
	}
	return nil
}
