package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/orgportal/pkg/config"
	"github.com/platinummonkey/orgportal/pkg/entities"
	"github.com/platinummonkey/orgportal/pkg/entitymeta"
	"github.com/platinummonkey/orgportal/pkg/firehose"
	"github.com/platinummonkey/orgportal/pkg/httputil"
	"github.com/platinummonkey/orgportal/pkg/observability"
	"github.com/platinummonkey/orgportal/pkg/orgs"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	diagnosticsPort := flag.String("diagnostics-port", "9090", "Port for the health and metrics endpoints")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := openProvider(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open the metadata store: %v", err)
	}
	defer provider.Close()

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
		logger.WithError(err).Warn("could not merge organization settings into the directory")
	}
	metrics.OrganizationsConfigured.Set(float64(directory.Len()))

	if cfg.Organizations.WatchChanges && cfg.Organizations.DirectoryPath != "" {
		go func() {
			if err := orgs.WatchDirectoryFile(ctx, cfg.Organizations.DirectoryPath, directory, logger); err != nil && err != context.Canceled {
				logger.WithError(err).Error("organization directory watcher stopped")
			}
		}()
	}

	queue := firehose.NewRedisQueue(firehose.RedisQueueOptions{
		Client:   redisClient,
		QueueKey: cfg.Firehose.QueueKey,
	})
	if recovered, err := queue.RecoverProcessing(ctx); err != nil {
		logger.WithError(err).Warn("could not recover stranded in-flight messages")
	} else if recovered > 0 {
		logger.WithField("recovered", recovered).Info("requeued stranded in-flight messages")
	}

	auditRecords := entities.NewAuditRecordStore(provider)
	processor := orgs.NewProcessor(directory, logger, orgs.NewAuditEventHandler(auditRecords))
	deliveries := firehose.NewDeliveryLog(0)

	worker := firehose.NewWorker(firehose.WorkerOptions{
		Queue:           queue,
		Organizations:   directory.QueueResolver(),
		Processor:       processor,
		Logger:          logger,
		Metrics:         metrics,
		Deliveries:      deliveries,
		Parallelism:     cfg.Firehose.Parallelism,
		EmptyQueueDelay: cfg.Firehose.EmptyQueueDelay,
	})

	scheduler := cron.New()
	if cfg.Firehose.AuditRetention > 0 {
		_, err := scheduler.AddFunc(cfg.Firehose.AuditCleanupSchedule, func() {
			cutoff := time.Now().UTC().Add(-cfg.Firehose.AuditRetention)
			expired, err := auditRecords.ExpireBefore(ctx, cutoff)
			if err != nil {
				logger.WithError(err).Error("audit retention job failed")
				return
			}
			metrics.AuditRecordsExpired.Add(float64(expired))
			logger.WithFields(logrus.Fields{
				"expired": expired,
				"cutoff":  cutoff.Format(time.RFC3339),
			}).Info("audit retention job finished")
		})
		if err != nil {
			log.Fatalf("Failed to schedule the audit retention job: %v", err)
		}
	}
	scheduler.Start()

	go serveDiagnostics(*diagnosticsPort, registry, provider, redisClient, deliveries, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	if err := worker.Run(ctx); err != nil {
		logger.WithError(err).Error("firehose worker stopped with an error")
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("firehose worker stopped")
}

func openProvider(ctx context.Context, cfg config.DatabaseConfig) (entitymeta.Provider, error) {
	switch cfg.Backend {
	case "postgres":
		return entitymeta.OpenPostgres(cfg.PostgresURL, cfg.MaxConns, cfg.MaxIdle, entitymeta.PostgresOptions{})
	case "sqlite":
		provider, err := entitymeta.OpenSQLite(cfg.SQLitePath, entitymeta.SQLiteOptions{})
		if err != nil {
			return nil, err
		}
		if err := provider.EnsureSchema(ctx); err != nil {
			provider.Close()
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}

func serveDiagnostics(port string, registry *prometheus.Registry, provider entitymeta.Provider, redisClient *redis.Client, deliveries *firehose.DeliveryLog, logger logrus.FieldLogger) {
	router := mux.NewRouter()
	observability.RegisterMetricsEndpoint(router, registry)
	switch p := provider.(type) {
	case *entitymeta.PostgresProvider:
		observability.RegisterHealthRoutes(router, observability.NewHealthChecker(p.DB(), redisClient))
	case *entitymeta.SQLiteProvider:
		observability.RegisterHealthRoutes(router, observability.NewHealthChecker(p.DB(), redisClient))
	}
	router.HandleFunc("/deliveries", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, deliveries.Recent(100))
	}).Methods(http.MethodGet)
	router.HandleFunc("/deliveries/stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, deliveries.Stats())
	}).Methods(http.MethodGet)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		logger.WithError(err).Error("diagnostics server failed")
	}
}
