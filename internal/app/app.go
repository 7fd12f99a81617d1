// Package app wires GuardAnt's components together per run mode. Every
// mode reads the same Config and connects to the same Postgres/Redis
// infrastructure; only the set of components started differs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/guardantio/guardant/internal/audit"
	"github.com/guardantio/guardant/internal/config"
	"github.com/guardantio/guardant/internal/httpserver"
	"github.com/guardantio/guardant/internal/platform"
	"github.com/guardantio/guardant/internal/telemetry"
	"github.com/guardantio/guardant/pkg/aggregator"
	"github.com/guardantio/guardant/pkg/broker"
	"github.com/guardantio/guardant/pkg/heartbeat"
	"github.com/guardantio/guardant/pkg/incident"
	"github.com/guardantio/guardant/pkg/ingestor"
	"github.com/guardantio/guardant/pkg/livestatus"
	"github.com/guardantio/guardant/pkg/nest"
	"github.com/guardantio/guardant/pkg/notifier"
	"github.com/guardantio/guardant/pkg/probe"
	"github.com/guardantio/guardant/pkg/region"
	"github.com/guardantio/guardant/pkg/registry"
	"github.com/guardantio/guardant/pkg/scheduler"
	"github.com/guardantio/guardant/pkg/service"
	"github.com/guardantio/guardant/pkg/worker"
)

// regionQueueCapacity bounds each region's probe-stream depth for
// scheduler backpressure (§4.5); every region shares this default until an
// operator-tunable override is warranted.
const regionQueueCapacity = 10_000

// Run reads config, connects to infrastructure, and starts the components
// for cfg.Mode. "all-in-one" runs every component in a single process for
// local development and small deployments.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting guardant", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()
	b := broker.New(rdb)

	switch cfg.Mode {
	case "scheduler":
		return runScheduler(ctx, cfg, logger, db, rdb, b)
	case "worker":
		return runWorker(ctx, cfg, logger, rdb, b)
	case "ingestor":
		return runIngestor(ctx, cfg, logger, db, rdb, b)
	case "aggregator":
		return runAggregator(ctx, cfg, logger, db, b)
	case "notifier":
		return runNotifier(ctx, cfg, logger, db, b)
	case "registry-api":
		return runRegistryAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "all-in-one":
		return runAllInOne(ctx, cfg, logger, db, rdb, b, metricsReg)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runScheduler(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, b *broker.Broker) error {
	services := service.NewStore(db)
	regionCap, err := regionCapacities(ctx, db)
	if err != nil {
		return err
	}
	instanceID := cfg.WorkerID
	if instanceID == "" {
		instanceID = "scheduler"
	}

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	s := scheduler.New(rdb, instanceID, services, b, regionCap, auditWriter, logger)
	logger.Info("scheduler started")
	return s.Run(ctx)
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, rdb *redis.Client, b *broker.Broker) error {
	heartbeats := heartbeat.NewStore(rdb)
	probes := probe.NewRegistry(heartbeats)

	w, err := worker.New(worker.Config{
		WorkerID:          cfg.WorkerID,
		OwnerEmail:        cfg.WorkerOwnerMail,
		RegionOverride:    cfg.RegionOverride,
		Capabilities:      worker.Capabilities{Types: cfg.ProbeTypes, MaxConcurrency: cfg.MaxConcurrency},
		Version:           cfg.WorkerVersion,
		RegistrationURL:   cfg.RegistryURL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DrainDeadline:     cfg.DrainDeadline,
		CacheDir:          cfg.CacheDir,
		CacheCapacity:     cfg.CacheCapacity,
	}, b, probes, logger)
	if err != nil {
		return fmt.Errorf("constructing worker: %w", err)
	}
	return w.Run(ctx)
}

func runIngestor(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, b *broker.Broker) error {
	services := service.NewStore(db)
	status := livestatus.NewStore(rdb)
	incidentStore := incident.NewStore(db)
	incidentCache := incident.NewCacheStore(rdb)
	machine := incident.NewMachine(incidentStore, incidentCache, rdb)

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	ing := ingestor.New(rdb, services, status, machine, b, auditWriter, logger)

	stream := broker.ResultsStream
	group := broker.GroupIngestor
	if err := b.EnsureGroup(ctx, stream, group); err != nil {
		return fmt.Errorf("ensuring ingestor consumer group: %w", err)
	}
	consumerName := cfg.WorkerID
	if consumerName == "" {
		consumerName = "ingestor"
	}
	consumer := broker.NewConsumer(b, stream, group, consumerName)

	go ingestor.RunReclaimer(ctx, consumer, 30*time.Second, ing)

	logger.Info("ingestor started")
	return ing.Run(ctx, consumer)
}

func runAggregator(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, b *broker.Broker) error {
	sink := aggregator.NewPostgresSink(db)
	agg := aggregator.New(sink, logger)

	stream := broker.AggregationStream
	group := broker.GroupAggregator
	if err := b.EnsureGroup(ctx, stream, group); err != nil {
		return fmt.Errorf("ensuring aggregator consumer group: %w", err)
	}
	consumerName := cfg.WorkerID
	if consumerName == "" {
		consumerName = "aggregator"
	}
	consumer := broker.NewConsumer(b, stream, group, consumerName)

	go agg.RunSealer(ctx, time.Minute)

	logger.Info("aggregator started")
	return aggregator.RunConsumer(ctx, consumer, agg, logger)
}

func runNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, b *broker.Broker) error {
	services := service.NewStore(db)
	nests := nest.NewStore(db)

	stream := broker.NotificationsStream
	group := broker.GroupNotifier
	if err := b.EnsureGroup(ctx, stream, group); err != nil {
		return fmt.Errorf("ensuring notifier consumer group: %w", err)
	}
	consumerName := cfg.WorkerID
	if consumerName == "" {
		consumerName = "notifier"
	}
	consumer := broker.NewConsumer(b, stream, group, consumerName)

	providers := buildNotifierRegistry(cfg, nests, logger)
	dispatcher := notifier.NewDispatcher(consumer, services, providers, logger)

	logger.Info("notifier started")
	return dispatcher.Run(ctx)
}

func runRegistryAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	store := registry.NewStore(rdb)
	reg := registry.New(store)

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	handler := registry.NewHandler(reg, auditWriter, cfg.RedisURL)
	handler.Mount(srv.PublicAPI)

	b := broker.New(rdb)
	hbStream := broker.HeartbeatsStream
	hbGroup := broker.GroupRegistry
	if err := b.EnsureGroup(ctx, hbStream, hbGroup); err != nil {
		return fmt.Errorf("ensuring registry heartbeat consumer group: %w", err)
	}
	hbConsumer := broker.NewConsumer(b, hbStream, hbGroup, "registry-api")
	hbConsumerLoop := registry.NewHeartbeatConsumer(hbConsumer, reg, logger)
	go func() {
		if err := hbConsumerLoop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("registry heartbeat consumer stopped", "error", err)
		}
	}()
	go registry.RunReaper(ctx, reg, registry.StaleAfter/3, logger)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("registry-api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down registry-api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runAllInOne starts every component as a goroutine in one process — the
// local-dev / small-deployment mode, mirroring a single "api"-or-"worker"
// split replaced here by a full single-binary fan-out.
func runAllInOne(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, b *broker.Broker, metricsReg *prometheus.Registry) error {
	logger.Info("all-in-one: starting every component in-process")

	errCh := make(chan error, 8)
	run := func(name string, fn func(ctx context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	run("scheduler", func(ctx context.Context) error { return runScheduler(ctx, cfg, logger, db, rdb, b) })
	run("ingestor", func(ctx context.Context) error { return runIngestor(ctx, cfg, logger, db, rdb, b) })
	run("aggregator", func(ctx context.Context) error { return runAggregator(ctx, cfg, logger, db, b) })
	run("notifier", func(ctx context.Context) error { return runNotifier(ctx, cfg, logger, db, b) })
	run("registry-api", func(ctx context.Context) error { return runRegistryAPI(ctx, cfg, logger, db, rdb, metricsReg) })

	if cfg.WorkerID != "" {
		run("worker", func(ctx context.Context) error { return runWorker(ctx, cfg, logger, rdb, b) })
	} else {
		logger.Info("all-in-one: no GUARDANT_WORKER_ID set, not starting an embedded worker")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func buildNotifierRegistry(cfg *config.Config, nests *nest.Store, logger *slog.Logger) *notifier.Registry {
	reg := notifier.NewRegistry()

	secretLookup := func(ctx context.Context, nestID string) (string, error) {
		id, err := uuid.Parse(nestID)
		if err != nil {
			return "", fmt.Errorf("parsing nest id %q: %w", nestID, err)
		}
		n, err := nests.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return n.WebhookSecret, nil
	}
	reg.Register(notifier.NewWebhookProvider(&http.Client{Timeout: cfg.WebhookTimeout}, secretLookup))

	if cfg.SMTPAddr != "" {
		reg.Register(notifier.NewEmailProvider(notifier.SMTPConfig{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}))
	} else {
		logger.Info("email notifications disabled (GUARDANT_SMTP_ADDR not set)")
	}

	reg.Register(notifier.NewSlackProvider(cfg.SlackBotToken, logger))

	return reg
}

// regionCapacities loads the known region set and assigns each the shared
// default queue-depth cap used for scheduler backpressure (§4.5).
func regionCapacities(ctx context.Context, db *pgxpool.Pool) (map[string]int, error) {
	regions, err := region.NewStore(db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing regions: %w", err)
	}
	out := make(map[string]int, len(regions))
	for _, r := range regions {
		out[r.ID] = regionQueueCapacity
	}
	return out, nil
}
