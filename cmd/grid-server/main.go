package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/grid-hierarchy/internal/config"
	"github.com/signalsfoundry/grid-hierarchy/internal/httpapi"
	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/internal/observability"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/engine"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/state"
	"github.com/signalsfoundry/grid-hierarchy/timectrl"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "grid-server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging())
	defer logging.Sync(log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracer(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewGridCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	st, err := engine.Build(ctx, cfg, log, collector)
	if err != nil {
		return err
	}
	defer st.Close()

	apiSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(st, httpapi.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         log,
			Metrics:        collector,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	servers := []*http.Server{apiSrv}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.Info(gctx, "http server listening", logging.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return runSweeps(gctx, st, cfg.SweepInterval.Duration, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down grid server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func parseConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("grid-server", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a TOML configuration file")
	scenario := fs.String("scenario", "", "Scenario JSON file (overrides the config file)")
	httpAddr := fs.String("http-addr", "", "HTTP address for the REST API")
	metricsAddr := fs.String("metrics-addr", "", "HTTP address for Prometheus /metrics")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	if *scenario != "" {
		cfg.ScenarioPath = *scenario
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	return cfg, cfg.Validate()
}

// runSweeps retries unsupplied consumers and checks system health every
// interval until ctx is done. A non-positive interval disables sweeping.
func runSweeps(ctx context.Context, st *state.ScenarioState, interval time.Duration, log logging.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	tc := timectrl.NewTimeController(time.Now(), interval, timectrl.RealTime)
	tc.AddListener(func(ctx context.Context, now time.Time) {
		rep, err := st.Sweep(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, state.ErrStopped) {
				log.Warn(ctx, "sweep failed", logging.Err(err))
			}
			return
		}
		if len(rep.Detached) == 0 && len(rep.Retry.Attached) == 0 {
			return
		}
		log.Info(ctx, "sweep changed the forest",
			logging.Int("detached", len(rep.Detached)),
			logging.Int("reattached", len(rep.Retry.Attached)),
			logging.Int("unsupplied", len(rep.Retry.Unsupplied)),
			logging.Any("at", now),
		)
	})

	if err := tc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
