// Package stress runs torture workloads against the concurrent structures
// and checks their invariants after every run.
package stress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"gitlab.com/slon/conc/metrics"
)

// ErrInvariant is wrapped by every error reporting a broken invariant.
var ErrInvariant = errors.New("invariant violated")

// Report describes one finished workload.
type Report struct {
	RunID    uuid.UUID
	Workload string
	Ops      int64
	Elapsed  time.Duration
}

type Runner struct {
	config    Config
	logger    *zap.Logger
	clock     clockwork.Clock
	collector *metrics.Collector
}

type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithClock(c clockwork.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithCollector makes every workload publish its structure's counters.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Runner) { r.collector = c }
}

func NewRunner(config Config, opts ...Option) (*Runner, error) {
	if len(config.Workloads) == 0 {
		config.Workloads = Workloads()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		config: config,
		logger: zap.NewNop(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the configured workloads one after another. It stops at the
// first failed workload and returns the reports of the workloads finished
// before it.
func (r *Runner) Run(ctx context.Context) ([]Report, error) {
	var reports []Report

	for _, name := range r.config.Workloads {
		if err := ctx.Err(); err != nil {
			return reports, err
		}

		id, err := uuid.NewV4()
		if err != nil {
			return reports, fmt.Errorf("failed to generate run id: %w", err)
		}
		logger := r.logger.With(zap.Stringer("run_id", id), zap.String("workload", name))

		e := &env{
			config:  r.config,
			publish: r.publish,
		}

		start := r.clock.Now()
		ops, err := workloads[name](ctx, e)
		elapsed := r.clock.Since(start)

		if err != nil {
			logger.Error("workload failed", zap.Error(err), zap.Duration("elapsed", elapsed))
			return reports, fmt.Errorf("workload %s: %w", name, err)
		}

		logger.Info("workload finished",
			zap.Int64("ops", ops),
			zap.Duration("elapsed", elapsed),
		)
		reports = append(reports, Report{
			RunID:    id,
			Workload: name,
			Ops:      ops,
			Elapsed:  elapsed,
		})
	}

	return reports, nil
}

func (r *Runner) publish(structure string, src metrics.Source) {
	if r.collector != nil {
		r.collector.Add(structure, src)
	}
}
