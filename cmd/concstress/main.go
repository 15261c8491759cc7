// Command concstress runs torture workloads against the concurrent
// structures and fails if any of their invariants breaks.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.com/slon/conc/metrics"
	"gitlab.com/slon/conc/stress"
)

type options struct {
	configPath  string
	workers     int
	ops         int
	rounds      int
	workloads   []string
	metricsAddr string
	logLevel    string
}

func (o *options) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "путь к .yaml конфигу прогона")
	fs.IntVar(&o.workers, "workers", 0, "число горутин на нагрузку")
	fs.IntVar(&o.ops, "ops", 0, "число операций на горутину")
	fs.IntVar(&o.rounds, "rounds", 0, "число раундов барьера")
	fs.StringArrayVar(&o.workloads, "workload", nil, "нагрузка для запуска, можно указать несколько раз")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "адрес, на котором отдаются /metrics")
	fs.StringVar(&o.logLevel, "log-level", "info", "уровень логирования")
}

// config loads the YAML file and applies the flags that were set explicitly.
func (o *options) config(fs *pflag.FlagSet) (stress.Config, error) {
	config := stress.DefaultConfig()
	if o.configPath != "" {
		var err error
		if config, err = stress.LoadConfig(o.configPath); err != nil {
			return config, err
		}
	}

	if fs.Changed("workers") {
		config.Workers = o.workers
	}
	if fs.Changed("ops") {
		config.Ops = o.ops
	}
	if fs.Changed("rounds") {
		config.Rounds = o.rounds
	}
	if fs.Changed("workload") {
		config.Workloads = o.workloads
	}

	return config, config.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func newRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

func run(ctx context.Context, o *options, fs *pflag.FlagSet) error {
	logger, err := newLogger(o.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	config, err := o.config(fs)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err), zap.String("path", o.configPath))
		return err
	}

	collector := metrics.NewCollector("conc")
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	runner, err := stress.NewRunner(config,
		stress.WithLogger(logger),
		stress.WithCollector(collector),
	)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	if o.metricsAddr != "" {
		srv := &http.Server{
			Addr:              o.metricsAddr,
			Handler:           newRouter(reg),
			ReadHeaderTimeout: 15 * time.Second,
		}

		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", o.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			select {
			case <-ctx.Done():
			case <-done:
			}

			logger.Info("shutting down metrics server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer close(done)

		reports, err := runner.Run(ctx)
		for _, r := range reports {
			fmt.Printf("%-12s %-36s ops=%-10d elapsed=%s\n", r.Workload, r.RunID, r.Ops, r.Elapsed)
		}
		return err
	})

	return g.Wait()
}

func newRootCmd() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:           "concstress",
		Short:         "Torture-test the concurrent data structures",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), &o, cmd.Flags())
		},
	}
	o.bind(cmd.Flags())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "concstress:", err)
		stop()
		os.Exit(1)
	}
}
