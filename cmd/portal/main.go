package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/orgportal/pkg/config"
	"github.com/platinummonkey/orgportal/pkg/entities"
	"github.com/platinummonkey/orgportal/pkg/entitymeta"
	"github.com/platinummonkey/orgportal/pkg/httputil"
	"github.com/platinummonkey/orgportal/pkg/observability"
	"github.com/platinummonkey/orgportal/pkg/orgs"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.ParsedLogLevel(), nil)
	logger.Info("Starting orgportal")

	ctx := context.Background()
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	provider, db, err := openProvider(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open the metadata store: %v", err)
	}
	defer provider.Close()
	logger.WithField("backend", provider.Name()).Info("Metadata store ready")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	directory := orgs.NewDirectory(nil)
	if cfg.Organizations.DirectoryPath != "" {
		directoryConfig, err := orgs.LoadDirectoryFile(cfg.Organizations.DirectoryPath)
		if err != nil {
			log.Fatalf("Failed to load the organization directory: %v", err)
		}
		directory.Replace(directoryConfig)
	}
	settings := entities.NewOrganizationSettingStore(provider)
	if err := directory.LoadFromSettings(ctx, settings); err != nil {
		logger.WithError(err).Warn("Could not merge organization settings into the directory")
	}
	metrics.OrganizationsConfigured.Set(float64(directory.Len()))
	logger.WithField("organizations", directory.Len()).Info("Organization directory loaded")

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, registry)
	}
	checker := observability.NewHealthChecker(db, redisClient)
	observability.RegisterHealthRoutes(router, checker)
	registerDirectoryRoutes(router, directory)
	registerMetadataRoutes(router, entities.NewRepositoryMetadataStore(provider), entities.NewAuditRecordStore(provider))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "orgportal"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	go func() {
		defer observability.RecoverPanic(logger, "portal http server")
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	go reportPoolStats(ctx, db, metrics)

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	logger.Info("orgportal stopped")
}

// openProvider wires the configured backend and returns the shared pool for
// health checks.
func openProvider(ctx context.Context, cfg config.DatabaseConfig) (entitymeta.Provider, *sql.DB, error) {
	switch cfg.Backend {
	case "postgres":
		provider, err := entitymeta.OpenPostgres(cfg.PostgresURL, cfg.MaxConns, cfg.MaxIdle, entitymeta.PostgresOptions{})
		if err != nil {
			return nil, nil, err
		}
		return provider, provider.DB(), nil
	case "sqlite":
		provider, err := entitymeta.OpenSQLite(cfg.SQLitePath, entitymeta.SQLiteOptions{})
		if err != nil {
			return nil, nil, err
		}
		if err := provider.EnsureSchema(ctx); err != nil {
			provider.Close()
			return nil, nil, err
		}
		return provider, provider.DB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}

func registerDirectoryRoutes(router *mux.Router, directory *orgs.Directory) {
	router.HandleFunc("/orgs", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, directory.List())
	}).Methods(http.MethodGet)

	router.HandleFunc("/orgs/{org}", func(w http.ResponseWriter, r *http.Request) {
		org, err := directory.GetOrganization(mux.Vars(r)["org"])
		if err != nil {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteSuccess(w, org)
	}).Methods(http.MethodGet)
}

func registerMetadataRoutes(router *mux.Router, repos *entities.RepositoryMetadataStore, records *entities.AuditRecordStore) {
	router.HandleFunc("/orgs/{org}/repos", func(w http.ResponseWriter, r *http.Request) {
		metadata, err := repos.ByOrganization(r.Context(), mux.Vars(r)["org"])
		if err != nil {
			httputil.WriteStoreError(w, err)
			return
		}
		httputil.WriteSuccess(w, metadata)
	}).Methods(http.MethodGet)

	router.HandleFunc("/repos/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := httputil.ParsePathInt64(r, "id")
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		metadata, err := repos.Get(r.Context(), id)
		if err != nil {
			httputil.WriteStoreError(w, err)
			return
		}
		httputil.WriteSuccess(w, metadata)
	}).Methods(http.MethodGet)

	router.HandleFunc("/audit/repos/{repo}", func(w http.ResponseWriter, r *http.Request) {
		trail, err := records.ByRepository(r.Context(), mux.Vars(r)["repo"])
		if err != nil {
			httputil.WriteStoreError(w, err)
			return
		}
		httputil.WriteSuccess(w, trail)
	}).Methods(http.MethodGet)
}

func reportPoolStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}
