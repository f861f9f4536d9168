// Package app wires the engine's runtime dependencies together and
// dispatches to the api or worker run mode, following the teacher's
// internal/app/app.go Run entry-point shape (logger → tracer → database
// → redis → global migrations → metrics registry → mode dispatch).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/duskpost/poster/internal/broker"
	"github.com/duskpost/poster/internal/cache"
	"github.com/duskpost/poster/internal/commentgen"
	"github.com/duskpost/poster/internal/config"
	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/httpserver"
	"github.com/duskpost/poster/internal/maintenance"
	"github.com/duskpost/poster/internal/platform"
	"github.com/duskpost/poster/internal/posting"
	"github.com/duskpost/poster/internal/queue"
	"github.com/duskpost/poster/internal/rotation"
	"github.com/duskpost/poster/internal/scheduler"
	"github.com/duskpost/poster/internal/selector"
	"github.com/duskpost/poster/internal/telemetry"
	"github.com/duskpost/poster/internal/tenant"
	"github.com/duskpost/poster/internal/version"
	"github.com/duskpost/poster/internal/viewscheduler"
)

// Run is the main application entry point: it reads config, connects
// to infrastructure, and starts the requested run mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting poster", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "poster", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}
	logger.Info("global migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, pool, rdb)
	case "provision-tenant":
		return runProvisionTenant(ctx, cfg, logger, pool)
	case "deprovision-tenant":
		return runDeprovisionTenant(ctx, cfg, logger, pool)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// runProvisionTenant onboards one new tenant: a global tenants row plus
// its own Postgres schema, migrated to match every other tenant's
// schema. Invoked as a one-shot CLI mode rather than an HTTP endpoint,
// since onboarding is an operator action, not a request the engine's
// own API surface needs to expose.
func runProvisionTenant(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool) error {
	if cfg.TenantName == "" || cfg.TenantSlug == "" {
		return fmt.Errorf("provision-tenant mode requires TENANT_NAME and TENANT_SLUG")
	}
	prov := &tenant.Provisioner{
		DB:            pool,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsTenantDir,
		Logger:        logger,
	}
	info, err := prov.Provision(ctx, cfg.TenantName, cfg.TenantSlug, nil)
	if err != nil {
		return fmt.Errorf("provisioning tenant: %w", err)
	}
	logger.Info("tenant provisioned", "tenant_id", info.ID, "slug", info.Slug)
	return nil
}

func runDeprovisionTenant(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool) error {
	if cfg.TenantSlug == "" {
		return fmt.Errorf("deprovision-tenant mode requires TENANT_SLUG")
	}
	prov := &tenant.Provisioner{DB: pool, DatabaseURL: cfg.DatabaseURL, Logger: logger}
	if err := prov.Deprovision(ctx, cfg.TenantSlug); err != nil {
		return fmt.Errorf("deprovisioning tenant: %w", err)
	}
	logger.Info("tenant deprovisioned", "slug", cfg.TenantSlug)
	return nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg)

	controlHandler := httpserver.NewControlHandler(logger, cfg.ProxyProbeTimeout)
	srv.APIRouter.Mount("/", controlHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// tenantResources bundles the per-tenant-schema handles a worker pass needs.
type tenantResources struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func (t *tenantResources) getTenantDB(ctx context.Context, slug string) (*db.Queries, func(), error) {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO tenant_%s, public", slug)); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("setting search_path: %w", err)
	}
	return db.New(conn), conn.Release, nil
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) error {
	logger.Info("worker started")

	res := &tenantResources{pool: pool, rdb: rdb}
	global := db.New(pool)

	cachePrefix := "poster"
	queueFor := func(name, slug string) *queue.Queue {
		return queue.New(rdb, fmt.Sprintf("%s:%s:%s", cachePrefix, slug, name))
	}
	cacheFor := func(slug string) *cache.Cache {
		return cache.New(rdb, fmt.Sprintf("%s:%s", cachePrefix, slug))
	}
	brokerFor := func(slug string) *broker.Broker {
		tq, release, err := res.getTenantDB(ctx, slug)
		if err != nil {
			logger.Error("acquiring tenant db for broker", "tenant", slug, "error", err)
			return nil
		}
		defer release()
		return broker.New(tq, cfg.PlatformTokenURL)
	}

	maintRunner := maintenance.New(global, res.getTenantDB, logger, cfg.ProxyProbeTimeout)
	go maintenance.RunLoop(ctx, logger, "daily_reset", 24*time.Hour, maintRunner.RunDailyReset)
	go maintenance.RunLoop(ctx, logger, "reconciliation", cfg.ReconciliationInterval, maintRunner.RunReconciliation)
	go maintenance.RunLoop(ctx, logger, "proxy_probe", cfg.MaintenanceInterval, maintRunner.RunProxyProbe)

	go runScheduleDrivers(ctx, global, res, cfg, queueFor, cacheFor, logger)
	go runViewSchedulers(ctx, global, res, cfg, queueFor, logger)

	worker := &posting.Worker{
		Pool:         global,
		GetTenantDB:  res.getTenantDB,
		Queue:        func(slug string) *queue.Queue { return queueFor("process-schedule-posts", slug) },
		Cache:        cacheFor,
		Broker:       brokerFor,
		Poster:       posting.UpstreamClient{},
		Limiter:      rate.NewLimiter(rate.Limit(cfg.PostWorkerRateLimit), cfg.PostWorkerRateLimit),
		Logger:       logger,
		TokenURL:     cfg.PlatformTokenURL,
		ProbeTimeout: cfg.ProxyProbeTimeout,
	}

	return runPostingLoop(ctx, worker, global, logger)
}

func runPostingLoop(ctx context.Context, worker *posting.Worker, global *db.Queries, logger *slog.Logger) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("posting loop stopped")
			return nil
		case <-ticker.C:
			tenants, err := global.ListTenants(ctx)
			if err != nil {
				logger.Error("listing tenants for posting loop", "error", err)
				continue
			}
			for _, t := range tenants {
				if err := worker.RunTenant(ctx, t.Slug); err != nil {
					logger.Error("posting worker tenant pass failed", "tenant", t.Slug, "error", err)
				}
			}
		}
	}
}

// newCommentGenerator wires the Comment-Text Generator's AI path to a real
// LLM and metadata endpoint whenever an API key is configured; with no key
// set it still returns a usable Generator, since Generate's template-pool
// fallback only needs g.Metadata/g.LLM to be non-nil when sched.UseAI is set,
// and no schedule reachably sets UseAI without an operator-configured key.
func newCommentGenerator(cfg *config.Config) *commentgen.Generator {
	if cfg.LLMAPIKey == "" {
		return commentgen.New(nil, nil)
	}
	httpClient := &http.Client{Timeout: 15 * time.Second}
	metadata := &commentgen.HTTPMetadataClient{Client: httpClient, BaseURL: cfg.PlatformMetadataURL}
	llm := &commentgen.HTTPLLMClient{Client: httpClient, BaseURL: cfg.LLMEndpoint, APIKey: cfg.LLMAPIKey}
	return commentgen.New(metadata, llm)
}

func runScheduleDrivers(ctx context.Context, global *db.Queries, res *tenantResources, cfg *config.Config, queueFor func(string, string) *queue.Queue, cacheFor func(string) *cache.Cache, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	generator := newCommentGenerator(cfg)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := global.ListTenants(ctx)
			if err != nil {
				logger.Error("listing tenants for schedule driver", "error", err)
				continue
			}
			for _, t := range tenants {
				tq, release, err := res.getTenantDB(ctx, t.Slug)
				if err != nil {
					logger.Error("acquiring tenant db for schedule driver", "tenant", t.Slug, "error", err)
					continue
				}
				driver := scheduler.New(tq, cacheFor(t.Slug), queueFor("process-schedule", t.Slug), logger)
				driver.PostQueue = queueFor("process-schedule-posts", t.Slug)
				driver.Selector = selector.New(tq, cacheFor(t.Slug), logger)
				driver.Rotation = rotation.New(tq)
				driver.Generator = generator
				driver.DefaultBetweenAccountsMs = cfg.DefaultBetweenAccountsMs
				driver.DispatchCeiling = cfg.DispatchCeiling

				if err := driver.SeedAll(ctx); err != nil {
					logger.Error("seeding schedules", "tenant", t.Slug, "error", err)
				}
				if err := driver.RunTenant(ctx); err != nil {
					logger.Error("running process-schedule jobs", "tenant", t.Slug, "error", err)
				}
				release()
			}
		}
	}
}

func runViewSchedulers(ctx context.Context, global *db.Queries, res *tenantResources, cfg *config.Config, queueFor func(string, string) *queue.Queue, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	viewer := &viewscheduler.HTTPViewerClient{Client: &http.Client{Timeout: cfg.ProxyProbeTimeout}, BaseURL: cfg.ViewerServiceURL}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := global.ListTenants(ctx)
			if err != nil {
				logger.Error("listing tenants for view scheduler", "error", err)
				continue
			}
			for _, t := range tenants {
				tq, release, err := res.getTenantDB(ctx, t.Slug)
				if err != nil {
					logger.Error("acquiring tenant db for view scheduler", "tenant", t.Slug, "error", err)
					continue
				}
				queueq := queueFor("simulate-view", t.Slug)
				vs := viewscheduler.New(tq, queueq, logger)
				if err := vs.RunDue(ctx); err != nil {
					logger.Error("running view schedules", "tenant", t.Slug, "error", err)
				}

				br := broker.New(tq, cfg.PlatformTokenURL)
				vw := viewscheduler.NewWorker(tq, queueq, viewer, posting.UpstreamClient{}, br, cfg.ProxyProbeTimeout, logger)
				if err := vw.RunTenant(ctx); err != nil {
					logger.Error("running simulate-view jobs", "tenant", t.Slug, "error", err)
				}
				release()
			}
		}
	}
}
