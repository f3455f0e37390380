package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/tenantdesk/accesskit/pkg/assignment"
	"github.com/tenantdesk/accesskit/pkg/audit"
	"github.com/tenantdesk/accesskit/pkg/config"
	"github.com/tenantdesk/accesskit/pkg/httputil"
	"github.com/tenantdesk/accesskit/pkg/observability"
	"github.com/tenantdesk/accesskit/pkg/profiles"
	"github.com/tenantdesk/accesskit/pkg/schema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("accessd stopped with error")
		os.Exit(1)
	}
	logger.Info("accessd stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := observability.ShutdownOTel(shutdownCtx, providers, logger); err != nil {
			logger.WithError(err).Warn("failed to shut down OpenTelemetry")
		}
	}()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Database
	cm, err := schema.NewConnectionManager(schema.ConnectionConfig{
		PrimaryURL:  cfg.Database.PostgresURL,
		ReplicaURLs: cfg.Database.ReplicaURLs(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
	}, logger)
	if err != nil {
		return err
	}
	defer cm.Close()

	if cfg.Database.MigrateOnStart {
		applied, err := schema.Migrate(ctx, cm.Primary(), logger)
		if err != nil {
			return err
		}
		logger.WithField("applied", applied).Info("database migrations complete")
	}
	cm.MonitorReplicas(ctx, 30*time.Second, metrics)

	// Redis is optional unless the profile cache or the redis session store needs it
	var redisClient *redis.Client
	if cfg.Cache.RedisURL != "" {
		redisClient, err = newRedisClient(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	auditLogger, err := newAuditLogger(cfg, cm)
	if err != nil {
		return err
	}
	defer auditLogger.Close()

	// Profile catalog
	var profileStore profiles.Store = profiles.NewPostgresStore(cm.Primary()).WithReadReplica(cm.Replica)
	if cfg.Cache.CacheEnabled {
		profileStore = profiles.NewCachedStore(profileStore, redisClient, cfg.Cache.CacheTTL, metrics)
		logger.WithField("ttl", cfg.Cache.CacheTTL.String()).Info("profile cache enabled")
	}

	modules, err := loadModules(ctx, cfg.Catalog.ModuleCatalogPath, logger)
	if err != nil {
		return err
	}

	catalog := profiles.NewCatalog(profileStore, logger).
		WithMetrics(metrics).
		WithAuditLogger(auditLogger).
		WithModules(modules)

	// Assignment engine
	assignmentStore := assignment.NewPostgresStore(cm.Primary(), catalog)
	engine := assignment.NewEngine(catalog, assignmentStore, assignment.Config{
		BatchSize: cfg.Assignment.BatchSize,
		Loader: assignment.LoaderConfig{
			ExcludedRoles: cfg.Assignment.ExcludedRoles,
			DefaultLimit:  cfg.Assignment.PopulationLimit,
			MaxLimit:      cfg.Assignment.PopulationMaxLimit,
		},
	}, logger).
		WithMetrics(metrics).
		WithAuditLogger(auditLogger)

	var sessions assignment.SessionStore
	switch cfg.Cache.SessionStore {
	case config.SessionStoreRedis:
		sessions = assignment.NewRedisSessionStore(redisClient, cfg.Cache.SessionTTL)
	default:
		sessions = assignment.NewMemorySessionStore(cfg.Cache.SessionCacheSize, cfg.Cache.SessionTTL)
	}
	logger.WithField("backend", cfg.Cache.SessionStore).Info("assignment session store ready")

	// Scheduled purge of inactive, unreferenced profiles
	scheduler := cron.New()
	if cfg.Catalog.PurgeSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Catalog.PurgeSchedule, func() {
			purgeProfiles(ctx, catalog, logger)
		}); err != nil {
			return fmt.Errorf("failed to schedule profile purge: %w", err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		logger.WithField("schedule", cfg.Catalog.PurgeSchedule).Info("profile purge scheduled")
	}

	// API server
	router := mux.NewRouter()
	router.Use(
		httputil.RecoveryMiddleware(logger),
		audit.NewMiddleware(auditLogger).Handler,
		observability.HTTPMetricsMiddleware(metrics),
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)
	profileHandlers := profiles.NewHandlers(catalog, logger)
	if cfg.Observability.AuditEnabled {
		history, err := audit.NewDBLogger(cm.Primary())
		if err != nil {
			return err
		}
		profileHandlers.WithHistory(history.WithReader(cm.Replica))
	}
	profileHandlers.RegisterRoutes(router)
	assignment.NewHandlers(engine, sessions, assignmentStore, logger).RegisterRoutes(router)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "accessd"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(cm.Primary(), redisClient, version)
	checker.AddProbe("replicas", false, cm.ReplicaProbe)
	observability.RegisterHealthRoutes(healthMux, checker)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		return serve(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(
			apiServer.Shutdown(shutdownCtx),
			healthServer.Shutdown(shutdownCtx),
		)
	})

	return g.Wait()
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s failed: %w", server.Addr, err)
	}
	return nil
}

func newRedisClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func newAuditLogger(cfg *config.Config, cm *schema.ConnectionManager) (audit.Logger, error) {
	if !cfg.Observability.AuditEnabled {
		return audit.NoOp(), nil
	}
	dbLogger, err := audit.NewDBLogger(cm.Primary())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	if cfg.Observability.AuditStdout {
		return audit.NewMultiLogger(dbLogger, audit.NewWriterLogger(os.Stdout)), nil
	}
	return dbLogger, nil
}

// loadModules loads the module catalog file and keeps it current. Without a
// path the built-in catalog is used.
func loadModules(ctx context.Context, path string, logger *observability.Logger) (*profiles.CatalogHolder, error) {
	if path == "" {
		return profiles.NewCatalogHolder(profiles.DefaultModuleCatalog()), nil
	}

	modules, err := profiles.LoadModuleCatalog(path)
	if err != nil {
		return nil, err
	}
	holder := profiles.NewCatalogHolder(modules)

	log := logger.WithField("path", path)
	if err := profiles.WatchModuleCatalog(ctx, path, holder, func(err error) {
		log.WithError(err).Warn("module catalog reload failed; keeping previous catalog")
	}); err != nil {
		return nil, err
	}
	log.WithField("categories", len(modules.Categories)).Info("module catalog loaded")
	return holder, nil
}

func purgeProfiles(ctx context.Context, catalog *profiles.Catalog, logger *observability.Logger) {
	purged, err := catalog.PurgeUnreferenced(ctx)
	log := logger.WithField("purged", len(purged))
	if err != nil {
		log.WithError(err).Error("profile purge failed")
		return
	}
	log.Info("profile purge complete")
}
