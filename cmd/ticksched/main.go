package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	yaml "github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tickrt/internal/config"
	"tickrt/internal/job"
	"tickrt/internal/pool"
	"tickrt/internal/sched"
	"tickrt/internal/trace"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "ticksched",
		Short:         "Tick-driven real-time kernel core running the two-task demo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yml", "path to the YAML configuration")

	var (
		duration time.Duration
		restart  bool
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and both tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runDemo(cmd.Context(), cfg, duration, restart)
		},
	}
	run.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 runs until interrupted)")
	run.Flags().BoolVar(&restart, "restart-on-fault", true, "re-exec the process after a fault instead of exiting")

	show := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	root.AddCommand(run, show)
	return root
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.LogFormat == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
	return log.Level(level).With().Timestamp().Logger()
}

func runDemo(parent context.Context, cfg config.Config, duration time.Duration, restart bool) error {
	log := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	// primitives, pool and tasks are all registered before the tick source starts
	s := sched.New(sched.Options{
		Logger:           log.With().Str("component", "sched").Logger(),
		StartTick:        sched.Tick(cfg.StartTick),
		EventBuffer:      cfg.EventBuffer,
		FaultOnQueueFull: cfg.FaultOnQueueFull,
		FaultHandler: func(f sched.Fault) {
			log.Error().Str("fault", f.Error()).Bool("restart", restart).Msg("system fault")
			if restart {
				restartProcess(log)
			}
			os.Exit(sched.FaultExitCode)
		},
	})
	events := pool.New[job.Event](cfg.PoolSlots)
	demo, err := job.Install(s, cfg.Demo, events, log.With().Str("component", "job").Logger())
	if err != nil {
		return fmt.Errorf("install tasks: %w", err)
	}

	var sinks []trace.Sink
	if ch := s.StatusChannel(); ch != nil {
		sinks = append(sinks, trace.NewLog(log.With().Str("component", "trace").Logger()))
		if cfg.TraceCSV != "" {
			c, err := trace.CreateCSV(cfg.TraceCSV, false)
			if err != nil {
				return fmt.Errorf("trace: %w", err)
			}
			sinks = append(sinks, c)
		}
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := trace.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		sinks = append(sinks, m)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	isr := []func(){s.TickAdvance}
	if pub := job.NewPublisher(events, demo.Signaler, cfg.PublishEvery, log); pub != nil {
		isr = append(isr, pub.OnTick)
	}
	clock := sched.NewTickClock(isr...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return clock.Run(gctx, time.Duration(cfg.TickMS)*time.Millisecond)
	})
	if ch := s.StatusChannel(); ch != nil {
		g.Go(func() error { return trace.Pump(ch, sinks...) })
	}
	if srv != nil {
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	computes := demo.Recorder.Computes()
	log.Info().
		Int64("ticks", clock.Count()).
		Int("computes", len(computes)).
		Int("deliveries", demo.Recorder.Deliveries()).
		Int("queue_timeouts", demo.Recorder.Timeouts()).
		Uint64("switches", s.Switches()).
		Uint64("dropped_events", s.Dropped()).
		Int("pool_peak", events.Peak()).
		Msg("run finished")
	return err
}
