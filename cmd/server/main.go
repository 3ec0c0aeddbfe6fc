package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"k8s.io/utils/clock"

	"github.com/sdko-org/gridgate/internal/admission"
	"github.com/sdko-org/gridgate/internal/cache"
	"github.com/sdko-org/gridgate/internal/config"
	"github.com/sdko-org/gridgate/internal/database"
	"github.com/sdko-org/gridgate/internal/geometry"
	"github.com/sdko-org/gridgate/internal/handlers"
	"github.com/sdko-org/gridgate/internal/httpserver"
	"github.com/sdko-org/gridgate/internal/jobs"
	"github.com/sdko-org/gridgate/internal/metrics"
	"github.com/sdko-org/gridgate/internal/render"
	"github.com/sdko-org/gridgate/internal/storage"
	"github.com/sdko-org/gridgate/internal/worker"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:           "gridgate",
		Short:         "HTTP gateway rendering gridfinity bins, baseplates and plates",
		Version:       handlers.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cfg.NewLogger())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "path to a config file (yaml, toml or json)")
	flags.String("addr", ":8080", "HTTP listen address")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("addr", flags.Lookup("addr"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))

	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.WithField("component", "main")

	metrics.Register()
	store := jobs.NewStore(cfg.JobMaxAge, cfg.MaxJobs, clock.RealClock{})
	if err := metrics.RegisterActiveJobs(store.ActiveCount); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	results := cache.New(cfg.CacheMaxEntries, cfg.CacheTTL, clock.RealClock{})
	quotas := admission.New(admission.Config{
		Enabled:        cfg.RateLimitEnabled,
		PerIPPerMinute: cfg.RateLimitPerIPPerMinute,
		ConcurrentJobs: cfg.RateLimitConcurrentJobs,
		DailyTotal:     cfg.RateLimitDailyTotal,
	}, store, clock.RealClock{}, logger)

	var geo render.Geometry
	if cfg.GeometryURL != "" {
		geo = geometry.NewClient(logger, cfg.GeometryURL, cfg.GeometryTimeout)
		log.WithField("url", cfg.GeometryURL).Info("Using remote geometry service")
	} else {
		geo = geometry.NewBoxRenderer(logger)
		log.Warn("No geometry service configured, rendering placeholder boxes")
	}

	var (
		hooks []worker.CompletionHook
		db    *gorm.DB
	)
	if cfg.Postgres != nil {
		var err error
		db, err = database.NewPostgresDB(ctx, logger, *cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		hooks = append(hooks, database.NewJobEventRecorder(logger, db))
	}
	if cfg.S3 != nil {
		s3Storage, err := storage.NewS3Storage(*cfg.S3)
		if err != nil {
			return fmt.Errorf("creating s3 storage: %w", err)
		}
		hooks = append(hooks, storage.NewArchiveHook(logger, s3Storage, cfg.S3Prefix))
	}

	// The pool writes the result cache itself once a job completes, so its
	// renderer reads through to geometry directly.
	pool := worker.New(worker.Config{Size: cfg.WorkerPoolSize, QueueSize: cfg.WorkerQueueSize},
		store, results, render.NewService(geo, nil, logger), logger, hooks...)
	pool.Start(ctx)

	clientIP := handlers.ClientIP(cfg.TrustProxyHeaders)
	h := handlers.New(logger, handlers.Deps{
		Jobs:      store,
		Results:   results,
		Admission: quotas,
		Pool:      pool,
		Renderer:  render.NewService(geo, results, logger),
		ClientIP:  clientIP,
	})
	throttle := handlers.NewSyncThrottle(logger, cfg.SyncRateLimitPerMinute, clientIP)

	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger, db, clientIP))
	r.Use(handlers.RecoverMiddleware(logger))
	handlers.RegisterRoutes(r, h, throttle)

	server := httpserver.New(logger, r, httpserver.Options{
		Addr:            cfg.Addr,
		TLSAddr:         cfg.TLSAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return throttle.Run(gctx) })
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if shutdownErr := pool.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("Worker pool did not stop cleanly")
	}
	if db != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}
	return err
}
