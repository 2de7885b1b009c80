package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/okian/ghostcoop/internal/adapters/http/api"
	"github.com/okian/ghostcoop/internal/adapters/http/stream"
	"github.com/okian/ghostcoop/internal/adapters/http/swagger"
	app "github.com/okian/ghostcoop/internal/app"
	"github.com/okian/ghostcoop/internal/config"
	"github.com/okian/ghostcoop/internal/spawner"
	"github.com/okian/ghostcoop/internal/sweeper"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Default Go collectors are replaced by the custom system gauges.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> .env -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "ghostcoop exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// run starts the service and the HTTP server and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	metrics.Configure(
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithRefreshInterval(cfg.MetricsRefreshInterval),
	)
	svc := newService(cfg, log)
	if err := svc.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(svc, cfg),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		startServiceMetricsUpdater(gctx, svc)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(gctx, "shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := svc.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		log.Info(shutdownCtx, "server stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}

func newService(cfg *config.Config, log logger.Logger) *app.Service {
	return app.New(
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithRules(cfg.Rules()),
		app.WithLocations(cfg.SpawnLocations()),
		app.WithSpawner(cfg.SpawnEnabled,
			spawner.WithInterval(cfg.SpawnInterval),
			spawner.WithMaxPerLocation(cfg.MaxGhostsPerLocation),
			spawner.WithStrongProbability(cfg.StrongGhostProbability),
			spawner.WithRadius(cfg.SpawnRadiusDeg),
		),
		app.WithSweeper(cfg.SweeperEnabled,
			sweeper.WithInterval(cfg.SweepInterval),
			sweeper.WithAttemptTimeout(cfg.AttemptTimeout),
			sweeper.WithPlayerTimeout(cfg.PlayerInactiveTimeout),
			sweeper.WithGhostLifetime(cfg.GhostLifetime),
		),
		app.WithSnapshot(cfg.SnapshotPath, cfg.SnapshotInterval),
		app.WithHistoryDSN(cfg.HistoryDSN),
	)
}

// newHandler mounts the API, the leaderboard, the event stream and the docs for a started service.
func newHandler(svc *app.Service, cfg *config.Config) http.Handler {
	opts := []api.Option{
		api.WithSpawner(svc.Spawner()),
		api.WithLeaderboard(svc.Leaderboard()),
		api.WithStream(stream.NewHandler(svc.Store())),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithDocs(swagger.Register),
	}
	if h := svc.History(); h != nil {
		opts = append(opts, api.WithHistory(h))
	}
	return api.NewServer(svc.Store(), svc, opts...).Routes()
}

// startSystemMetricsUpdater updates system gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes service gauges until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats updates the queue, worker and player gauges.
			_ = svc.GetStats()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
